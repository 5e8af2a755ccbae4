package main

import (
	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(cfg *config.Config, log *zap.Logger) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.RunMigrations(ctx, pool, dir, log)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", cfg.MigrationsDir, "Directory holding *.up.sql files")

	return cmd
}
