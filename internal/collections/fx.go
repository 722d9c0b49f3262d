package collections

import "go.uber.org/fx"

var Module = fx.Module("collections.engine",
	fx.Provide(NewEngine),
)
