package provisioning

import "go.uber.org/fx"

var Module = fx.Module("providers.provisioning",
	fx.Provide(func() *Registry {
		return NewRegistry(Noop{})
	}),
)
