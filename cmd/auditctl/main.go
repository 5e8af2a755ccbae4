// Package main provides auditctl, the operator CLI for the audit service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/retail-backoffice/inventory-audit/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log, _ := zap.NewDevelopment()
	defer log.Sync()

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Operate the inventory audit service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newMigrateCmd(cfg, log),
		newEnsureIndexesCmd(log),
		newTokenCmd(cfg),
	)

	return rootCmd.ExecuteContext(ctx)
}
