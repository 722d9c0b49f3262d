package payment

import (
	"github.com/billfold/billfold/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.payment",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) *Registry {
	registry := NewRegistry()
	if cfg.StripeAPIKey != "" {
		registry.Register(NewStripe(cfg.StripeAPIKey))
	}
	registry.Register(OfflineProcessor{})
	return registry
}
