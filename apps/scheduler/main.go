package main

import (
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/audit"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/branch"
	"github.com/smallbiznis/stockopname/internal/clock"
	"github.com/smallbiznis/stockopname/internal/config"
	"github.com/smallbiznis/stockopname/internal/inventory"
	"github.com/smallbiznis/stockopname/internal/notification"
	"github.com/smallbiznis/stockopname/internal/observability"
	"github.com/smallbiznis/stockopname/internal/opname"
	"github.com/smallbiznis/stockopname/internal/providers"
	"github.com/smallbiznis/stockopname/internal/ratelimit"
	"github.com/smallbiznis/stockopname/internal/schedule"
	"github.com/smallbiznis/stockopname/internal/scheduler"
	"github.com/smallbiznis/stockopname/internal/staff"
	"github.com/smallbiznis/stockopname/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		audit.Module,
		authorization.Module,
		branch.Module,
		staff.Module,
		inventory.Module,
		providers.Module,
		notification.Module,
		opname.Module,
		schedule.Module,

		// Redis client for job locks
		ratelimit.Module,

		// No server module!
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
