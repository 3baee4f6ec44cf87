package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/monocle/internal/progress"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep progress in sync until interrupted",
		Long: `run hydrates from the remote record, then mirrors every change to it.
It also resets the daily challenges at local midnight, evaluates
achievements on a poll and reloads the local blob when another
monocle process rewrites it.`,
		Args: cobra.NoArgs,
		RunE: withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			return runDaemon(cmd.Context(), a, cmd.OutOrStdout())
		}),
	}
}

func runDaemon(ctx context.Context, a *app, out io.Writer) error {
	// Subscribe before hydrating so the merged state is pushed back.
	if a.coordinator != nil {
		a.coordinator.Start()
	}
	a.hydrate(ctx)
	a.store.CheckDailyReset()

	scheduler := gocron.NewScheduler(time.Local)
	if _, err := scheduler.Every(1).Day().At("00:00").Do(a.store.CheckDailyReset); err != nil {
		return fmt.Errorf("schedule daily reset: %w", err)
	}
	poll := a.cfg.AchievementPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if _, err := scheduler.Every(poll).Do(func() {
		for _, id := range a.store.CheckAchievements() {
			a.logger.Info("achievement unlocked", zap.String("id", id))
			printUnlocked(out, []string{id})
		}
	}); err != nil {
		return fmt.Errorf("schedule achievement poll: %w", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if path := a.statePath(); path != "" {
		watcher := progress.NewFileWatcher(a.store, path, progress.FileWatcherOptions{Logger: a.logger})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	a.logger.Info("monocle running", zap.Bool("sync", a.coordinator != nil), zap.String("state", a.cfg.StateDSN))
	return g.Wait()
}
