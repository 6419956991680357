package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railmeter/internal/briefs"
	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/smallbiznis/railmeter/internal/metering"
	"github.com/smallbiznis/railmeter/internal/migration"
	"github.com/smallbiznis/railmeter/internal/observability"
	"github.com/smallbiznis/railmeter/internal/ratelimit"
	"github.com/smallbiznis/railmeter/internal/scheduler"
	"github.com/smallbiznis/railmeter/internal/seed"
	"github.com/smallbiznis/railmeter/internal/server"
	"github.com/smallbiznis/railmeter/pkg/db"
	"go.uber.org/fx"
)

// railmeter runs the API and the reconcile/outbox scheduler in one process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		metering.Module,
		seed.Module,
		briefs.Module,
		ratelimit.Module,

		server.Module,
		scheduler.Module,
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
