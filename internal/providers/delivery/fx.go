package delivery

import "go.uber.org/fx"

var Module = fx.Module("providers.delivery",
	fx.Provide(NewSender),
)
