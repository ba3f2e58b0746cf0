package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSyncCmd creates the 'sync' subcommand, which performs one run.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Runs one catalog synchronization",
		Long: `Crawls the configured category and writes changed products to the
sheet. An interrupted run resumes from the last row on the next start.`,
		RunE: runSyncCommand,
	}
}

func runSyncCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := appInstance.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			zap.L().Warn("sync interrupted", zap.Any("stats", stats))
			return nil
		}
		return fmt.Errorf("run sync: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "inserted=%d updated=%d skipped=%d unchanged=%d resumed=%d failed=%d\n",
		stats.Inserted, stats.Updated, stats.Skipped, stats.Unchanged, stats.Resumed, stats.Failed)
	return nil
}
