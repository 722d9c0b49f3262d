package subscription

import (
	"github.com/billfold/billfold/internal/subscription/repository"
	"github.com/billfold/billfold/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
