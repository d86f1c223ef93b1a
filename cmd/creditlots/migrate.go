package main

import (
	"fmt"

	sqlstore "github.com/goliatone/go-creditlots/store/sql"
	"github.com/spf13/cobra"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openDatabase(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			// --dev already migrated while opening
			if !rt.cfg.AutoMigrate {
				if err := sqlstore.Migrate(cmd.Context(), rt.client, rt.cfg.DatabaseDriver); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", rt.cfg.DatabaseDriver)
			return err
		},
	}
}
