package tenant

import (
	"github.com/billfold/billfold/internal/tenant/repository"
	"github.com/billfold/billfold/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
