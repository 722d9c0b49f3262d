package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/billfold/billfold/internal/client"
	"github.com/billfold/billfold/internal/clock"
	"github.com/billfold/billfold/internal/collections"
	"github.com/billfold/billfold/internal/config"
	"github.com/billfold/billfold/internal/invoice"
	"github.com/billfold/billfold/internal/lifecycle"
	"github.com/billfold/billfold/internal/migration"
	"github.com/billfold/billfold/internal/providers"
	"github.com/billfold/billfold/internal/recurring"
	"github.com/billfold/billfold/internal/reminder"
	"github.com/billfold/billfold/internal/scheduler"
	"github.com/billfold/billfold/internal/server"
	"github.com/billfold/billfold/internal/servicechange"
	"github.com/billfold/billfold/internal/subscription"
	"github.com/billfold/billfold/internal/taskrun"
	"github.com/billfold/billfold/internal/tenant"
	"github.com/billfold/billfold/pkg/db"
	"github.com/billfold/billfold/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		tenant.Module,
		client.Module,
		subscription.Module,
		invoice.Module,
		recurring.Module,
		providers.Module,
		collections.Module,
		lifecycle.Module,
		servicechange.Module,
		reminder.Module,
		taskrun.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
