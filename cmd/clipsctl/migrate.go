package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svglol/better-clips/internal/adapter/postgres"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.databaseURL == "" {
				return errors.New("database URL required (--database or DATABASE_URL)")
			}

			pool, err := postgres.Connect(cmd.Context(), flags.databaseURL, nil)
			if err != nil {
				return err
			}
			defer pool.Close()

			result, err := postgres.Migrate(cmd.Context(), pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if result.From == result.To {
				cmd.Printf("schema up to date at version %d\n", result.To)
			} else {
				cmd.Printf("migrated schema from version %d to %d\n", result.From, result.To)
			}
			return nil
		},
	}
}
