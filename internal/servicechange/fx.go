package servicechange

import (
	"github.com/billfold/billfold/internal/servicechange/repository"
	"github.com/billfold/billfold/internal/servicechange/service"
	"go.uber.org/fx"
)

var Module = fx.Module("servicechange.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
