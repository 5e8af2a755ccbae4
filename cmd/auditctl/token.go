package main

import (
	"fmt"
	"time"

	"github.com/retail-backoffice/inventory-audit/internal/auth"
	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/retail-backoffice/inventory-audit/internal/rbac"
	"github.com/retail-backoffice/inventory-audit/internal/tenant"
	"github.com/spf13/cobra"
)

type tokenFlags struct {
	tenantID string
	userID   string
	role     string
	ttl      time.Duration
}

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var flags tokenFlags

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !tenant.ValidID(flags.tenantID) {
				return fmt.Errorf("invalid tenant id %q", flags.tenantID)
			}
			if !rbac.IsValidRole(flags.role) {
				return fmt.Errorf("unknown role %q", flags.role)
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, flags.tenantID, flags.userID, flags.role, flags.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.tenantID, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&flags.userID, "user", "", "User id")
	cmd.Flags().StringVar(&flags.role, "role", rbac.RoleManager, "Role: admin, manager or counter")
	cmd.Flags().DurationVar(&flags.ttl, "ttl", cfg.JWTExpiration, "Token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
