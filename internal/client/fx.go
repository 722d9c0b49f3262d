package client

import (
	"github.com/billfold/billfold/internal/client/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("client.repository",
	fx.Provide(repository.Provide),
)
