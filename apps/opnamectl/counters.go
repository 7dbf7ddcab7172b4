package main

import (
	"context"
	"errors"

	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type recomputeOptions struct {
	sessionID string
	all       bool
	limit     int
}

func newRecomputeCountersCmd() *cobra.Command {
	opts := recomputeOptions{}
	cmd := &cobra.Command{
		Use:   "recompute-counters",
		Short: "Recompute stored session counters from scanned and snapshot rows",
		Long: `Recompute the counters stored on opname sessions.

Examples:
  # One session
  opnamectl recompute-counters --session 1790000000000000000

  # Every session whose counters drifted, at most 500
  opnamectl recompute-counters --all --limit 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecompute(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id to recompute")
	cmd.Flags().BoolVar(&opts.all, "all", false, "repair every session with drifted counters")
	cmd.Flags().IntVar(&opts.limit, "limit", 1000, "maximum sessions to repair with --all")
	cmd.MarkFlagsMutuallyExclusive("session", "all")
	cmd.MarkFlagsOneRequired("session", "all")
	return cmd
}

func runRecompute(ctx context.Context, opts recomputeOptions) error {
	if opts.all && opts.limit <= 0 {
		return errors.New("--limit must be positive")
	}

	var (
		svc opnamedomain.Service
		log *zap.Logger
	)
	return runApp(ctx, func(ctx context.Context) error {
		if opts.all {
			repaired, err := svc.RepairDriftedCounters(ctx, opts.limit)
			if err != nil {
				return err
			}
			log.Info("counter repair finished", zap.Int("repaired", repaired), zap.Int("limit", opts.limit))
			return nil
		}

		sessionID, err := parseSnowflake("session", opts.sessionID)
		if err != nil {
			return err
		}
		before, after, err := svc.RecomputeCounters(ctx, sessionID)
		if err != nil {
			return err
		}
		log.Info("counters recomputed",
			zap.String("session_id", sessionID.String()),
			zap.Bool("changed", before != after),
			zap.Any("before", before),
			zap.Any("after", after),
		)
		return nil
	}, coreModules(), domainModules(), fx.Populate(&svc, &log))
}
