package taskrun

import (
	"github.com/billfold/billfold/internal/taskrun/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("taskrun.repository",
	fx.Provide(repository.Provide),
)
