package plugin

import "go.uber.org/fx"

var Module = fx.Module("providers.plugin",
	fx.Provide(NewRuntime),
)
