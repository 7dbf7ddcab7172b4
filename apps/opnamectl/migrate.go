package main

import (
	"github.com/smallbiznis/stockopname/internal/migration"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// migration.Module applies the schema while the app is built.
			return runApp(cmd.Context(), nil, coreModules(), migration.Module)
		},
	}
}
