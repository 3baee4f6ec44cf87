package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "monocle",
		Short:        "Track monocle training progress and keep it in sync",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newSessionCmd(),
		newChallengeCmd(),
		newDiagnosticCmd(),
		newLevelCmd(),
		newAchievementsCmd(),
		newExportCmd(),
		newImportCmd(),
		newResetCmd(),
	)
	return root
}

// withApp opens the store and sync target for one command invocation.
// Mutating commands hydrate first and flush the result before returning.
func withApp(mutates bool, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := loadClientConfig()
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("MONOCLE_LOG_LEVEL: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if mutates {
			a.hydrate(ctx)
			a.store.CheckDailyReset()
		}
		if err := fn(cmd, args, a); err != nil {
			return err
		}
		if mutates {
			a.flush(ctx)
		}
		return nil
	}
}
