package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentworkforce/monocle/internal/progress"
	"github.com/agentworkforce/monocle/internal/remote"
	"github.com/agentworkforce/monocle/internal/syncer"
)

// app wires the local store to an optional remote sync target.
type app struct {
	cfg         clientConfig
	logger      *zap.Logger
	backend     progress.StateBackend
	store       *progress.Store
	coordinator *syncer.Coordinator
	repo        remote.Repository
}

func openApp(ctx context.Context, cfg clientConfig, logger *zap.Logger) (*app, error) {
	backend, err := progress.BuildStateBackendFromDSN(cfg.StateDSN)
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   progress.NewStore(progress.StoreOptions{StateBackend: backend, Logger: logger}),
	}
	if !cfg.remoteConfigured() {
		logger.Debug("no sync target configured, running local-only")
		return a, nil
	}

	var client syncer.RemoteClient
	if cfg.RemoteDSN != "" {
		repo, err := remote.OpenRepository(ctx, cfg.RemoteDSN)
		if err != nil {
			_ = a.store.Close()
			return nil, fmt.Errorf("open remote repository: %w", err)
		}
		a.repo = repo
		client = syncer.NewRepositoryClient(repo, cfg.UserID)
	} else {
		client = syncer.NewHTTPClient(cfg.BaseURL, cfg.UserID, cfg.Token, &http.Client{Timeout: cfg.Timeout})
	}
	coordinator, err := syncer.NewCoordinator(a.store, client, syncer.CoordinatorOptions{
		Debounce:            cfg.Debounce,
		PushTimeout:         cfg.Timeout,
		SyncActivityHistory: cfg.SyncActivity,
		Logger:              logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.coordinator = coordinator
	return a, nil
}

// hydrate merges the remote record once. Failures keep the app local-only
// for this run and are not returned.
func (a *app) hydrate(ctx context.Context) {
	if a.coordinator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	if err := a.coordinator.Hydrate(ctx); err != nil && !errors.Is(err, syncer.ErrNotFound) {
		a.logger.Warn("continuing with local progress only", zap.Error(err))
	}
}

// flush pushes the current snapshot before a one-shot command exits.
func (a *app) flush(ctx context.Context) {
	if a.coordinator == nil {
		return
	}
	if err := a.coordinator.Flush(ctx); err != nil {
		a.logger.Warn("progress not synced, it will be sent on the next change", zap.Error(err))
	}
}

func (a *app) statePath() string {
	if fileBackend, ok := a.backend.(*progress.JSONFileStateBackend); ok {
		return fileBackend.Path
	}
	return ""
}

func (a *app) Close() error {
	if a.coordinator != nil {
		a.coordinator.Close()
	}
	var errs []error
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
