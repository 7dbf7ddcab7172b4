package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallbiznis/stockopname/internal/report"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type exportOptions struct {
	sessionID string
	out       string
	as        string
}

func newExportCmd() *cobra.Command {
	opts := exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a session workbook to a file",
		Long: `Export a session as an .xlsx workbook. The export runs with the
permissions of the staff member given by --as.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id to export")
	cmd.Flags().StringVar(&opts.out, "out", "", "output file; defaults to the workbook's own name")
	cmd.Flags().StringVar(&opts.as, "as", "", "staff id the export runs as")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func runExport(ctx context.Context, opts exportOptions) error {
	sessionID, err := parseSnowflake("session", opts.sessionID)
	if err != nil {
		return err
	}
	staffID, err := parseSnowflake("as", opts.as)
	if err != nil {
		return err
	}

	var (
		exporter report.Exporter
		staff    staffdomain.Directory
		log      *zap.Logger
	)
	return runApp(ctx, func(ctx context.Context) error {
		principal, err := staff.Principal(ctx, staffID)
		if err != nil {
			return fmt.Errorf("resolve staff %s: %w", staffID, err)
		}

		dir := "."
		if opts.out != "" {
			dir = filepath.Dir(opts.out)
		}
		tmp, err := os.CreateTemp(dir, ".opname-export-*.xlsx")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())

		filename, err := exporter.ExportSession(ctx, principal, sessionID, tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		out := opts.out
		if out == "" {
			out = filepath.Join(dir, filename)
		}
		if err := os.Rename(tmp.Name(), out); err != nil {
			return err
		}
		log.Info("session exported", zap.String("session_id", sessionID.String()), zap.String("file", out))
		return nil
	}, coreModules(), domainModules(), fx.Populate(&exporter, &staff, &log))
}
