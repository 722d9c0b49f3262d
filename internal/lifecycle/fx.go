package lifecycle

import "go.uber.org/fx"

var Module = fx.Module("lifecycle.sweeper",
	fx.Provide(NewSweeper),
)
