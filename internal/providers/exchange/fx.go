package exchange

import "go.uber.org/fx"

var Module = fx.Module("providers.exchange",
	fx.Provide(NewSource),
)
