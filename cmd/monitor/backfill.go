package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Run a one-shot backfill of wallet activity and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShotBackfill(cmd.Context())
		},
	}
}

func runOneShotBackfill(ctx context.Context) error {
	defer logger.Sync() //nolint:errcheck

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	start := time.Now()
	result, err := a.monitor.Backfill(ctx, func(current, total int) {
		fmt.Printf("\rsyncing %d/%d wallets", current, total)
	})
	if err != nil {
		return err
	}
	fmt.Println()

	fmt.Printf("Backfill finished in %s: %d succeeded, %d failed\n",
		time.Since(start).Round(time.Millisecond), result.Succeeded, result.Failed)
	for _, item := range result.Errors {
		fmt.Printf("  %s: %s\n", item.Item, item.Message)
	}

	if result.Succeeded == 0 && result.Failed > 0 {
		return fmt.Errorf("all %d wallets failed", result.Failed)
	}
	return nil
}
