package main

import (
	"errors"
	"fmt"

	"mailchat_server/adapter/out/persistence"
	"mailchat_server/config"
	"mailchat_server/infra/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres index migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}

			pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig(2))
			if err != nil {
				return err
			}
			defer pool.Close()

			db := database.NewSQLX(pool)
			defer db.Close()

			version, err := persistence.Migrate(db.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "email index at schema version %d\n", version)
			return nil
		},
	}
}
