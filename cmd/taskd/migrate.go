package main

import (
	"log/slog"

	"github.com/ggoodman/taskd/config"
	"github.com/ggoodman/taskd/taskstore/postgres"
	"github.com/spf13/cobra"
)

func migrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tasks table and its indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StorePostgres {
				log.InfoContext(cmd.Context(), "migrate.skip", slog.String("driver", cfg.Store.Driver))
				return nil
			}

			pool, err := postgres.Open(cmd.Context(), cfg.Store.DatabaseURL.Value(), cfg.Store.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			log.InfoContext(cmd.Context(), "migrate.done")
			return nil
		},
	}
}
