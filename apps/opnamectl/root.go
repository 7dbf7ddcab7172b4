package main

import (
	"context"
	"fmt"
	"time"

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
	"github.com/smallbiznis/stockopname/internal/report"
	"github.com/smallbiznis/stockopname/internal/staff"
	"github.com/smallbiznis/stockopname/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const appTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opnamectl",
		Short: "Operator tooling for stock opname sessions",
		Long: `opnamectl runs maintenance tasks against the stock opname database:
schema migrations, counter repair and workbook export.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newRecomputeCountersCmd(), newExportCmd())
	return root
}

// coreModules is the infrastructure every command needs.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
	)
}

// domainModules wires the services behind sessions and exports.
func domainModules() fx.Option {
	return fx.Options(
		audit.Module,
		authorization.Module,
		branch.Module,
		staff.Module,
		inventory.Module,
		providers.Module,
		notification.Module,
		opname.Module,
		report.Module,
	)
}

// runApp starts an fx app built from opts, calls fn and stops the app again.
func runApp(ctx context.Context, fn func(context.Context) error, opts ...fx.Option) error {
	app := fx.New(append([]fx.Option{fx.NopLogger}, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, appTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(4)
	if err != nil {
		panic(err)
	}
	return node
}

func parseSnowflake(flag, raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("--%s: invalid id %q", flag, raw)
	}
	return id, nil
}
