package main

import (
	"context"
	"fmt"

	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/db"
	"github.com/retail-backoffice/inventory-audit/internal/repositories"
	"github.com/retail-backoffice/inventory-audit/internal/tenant"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newEnsureIndexesCmd(log *zap.Logger) *cobra.Command {
	var tenants []string

	cmd := &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create MongoDB indexes for one or more tenant databases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, t := range tenants {
				if !tenant.ValidID(t) {
					return fmt.Errorf("invalid tenant id %q", t)
				}
			}

			mcfg, err := config.LoadMongo()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := db.NewMongoClient(ctx, mcfg, log)
			if err != nil {
				return err
			}
			defer client.Disconnect(context.Background())

			backend := repositories.NewMongoBackend(client, mcfg.DatabasePrefix)
			for _, t := range tenants {
				if err := backend.EnsureIndexes(ctx, t); err != nil {
					return fmt.Errorf("tenant %s: %w", t, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexes ready for %s%s\n", mcfg.DatabasePrefix, t)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tenants, "tenant", "t", nil, "Tenant id (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
