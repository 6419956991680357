package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railmeter/internal/briefs"
	"github.com/smallbiznis/railmeter/internal/clock"
	"github.com/smallbiznis/railmeter/internal/config"
	"github.com/smallbiznis/railmeter/internal/metering"
	"github.com/smallbiznis/railmeter/internal/observability"
	"github.com/smallbiznis/railmeter/internal/ratelimit"
	"github.com/smallbiznis/railmeter/internal/scheduler"
	"github.com/smallbiznis/railmeter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the reconcile and outbox jobs.
		metering.Module,
		briefs.Module,
		ratelimit.Module,

		// No server module. Jobs only run when RECONCILE_ENABLED is set.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
