package syncer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/agentworkforce/monocle/internal/progress"
)

const (
	DefaultDebounce    = 2 * time.Second
	DefaultPushTimeout = 15 * time.Second
)

var (
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monocle_sync_pushes_total",
		Help: "Progress pushes to the remote record by result",
	}, []string{"result"})

	hydrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monocle_sync_hydrations_total",
		Help: "Remote record hydrations by result",
	}, []string{"result"})
)

type CoordinatorOptions struct {
	Debounce            time.Duration
	PushTimeout         time.Duration
	SyncActivityHistory bool
	Logger              *zap.Logger
}

// Coordinator mirrors the watched progress fields to the remote record. A
// change to any watched field re-arms a single debounce timer; when it
// fires the then-current snapshot is pushed. Pushes never overlap.
type Coordinator struct {
	store           *progress.Store
	client          RemoteClient
	debounce        time.Duration
	pushTimeout     time.Duration
	includeActivity bool
	logger          *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	timer       *time.Timer
	generation  uint64
	unsubscribe func()
	closed      bool
	wg          sync.WaitGroup

	pushMu sync.Mutex
}

func NewCoordinator(store *progress.Store, client RemoteClient, opts CoordinatorOptions) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:           store,
		client:          client,
		debounce:        opts.Debounce,
		pushTimeout:     opts.PushTimeout,
		includeActivity: opts.SyncActivityHistory,
		logger:          logger.Named("sync"),
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Hydrate fetches the remote record once and merges it into the store.
// On any error local state is left as is; callers may treat the error as
// informational.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	record, err := c.client.FetchProgress(ctx)
	if errors.Is(err, ErrNotFound) {
		hydrationsTotal.WithLabelValues("not_found").Inc()
		c.logger.Info("no remote progress yet, staying local")
		return err
	}
	if err != nil {
		hydrationsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("hydrate failed, staying local", zap.Error(err))
		return err
	}
	c.store.HydrateFromDb(record.Hydration())
	hydrationsTotal.WithLabelValues("ok").Inc()
	c.logger.Debug("hydrated from remote",
		zap.Int("level", record.Level),
		zap.Int("xp", record.XP),
		zap.Int("achievements", len(record.UnlockedAchievements)),
	)
	return nil
}

// Start subscribes to store changes. Calling it twice is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.unsubscribe != nil {
		return
	}
	c.unsubscribe = c.store.Subscribe(func(change progress.Change) {
		if watchedChanged(change.Prev, change.Next, c.includeActivity) {
			c.schedule()
		}
	})
}

func (c *Coordinator) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	gen := c.generation
	c.timer = time.AfterFunc(c.debounce, func() {
		c.fire(gen)
	})
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()
	_ = c.push(c.ctx)
}

// Pending reports whether a debounce timer is armed.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Flush cancels any armed timer and pushes the current snapshot now.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-c.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()
	return c.push(ctx)
}

func (c *Coordinator) push(parent context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	if err := parent.Err(); err != nil {
		return err
	}
	snapshot := c.store.SyncSnapshot(c.includeActivity)
	ctx, cancel := context.WithTimeout(parent, c.pushTimeout)
	defer cancel()
	if err := c.client.PushProgress(ctx, snapshot); err != nil {
		pushesTotal.WithLabelValues("error").Inc()
		c.logger.Warn("push failed", zap.Error(err))
		return err
	}
	pushesTotal.WithLabelValues("ok").Inc()
	c.logger.Debug("pushed progress", zap.Int("xp", *snapshot.XP), zap.Int("level", *snapshot.Level))
	return nil
}

// Close cancels any armed timer and in-flight push, unsubscribes from the
// store and waits for background work.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
}

func watchedChanged(prev, next progress.State, includeActivity bool) bool {
	if prev.Level != next.Level ||
		prev.XP != next.XP ||
		prev.DailyStreak != next.DailyStreak ||
		prev.LastPracticeDate != next.LastPracticeDate ||
		prev.LastChallengeResetDate != next.LastChallengeResetDate ||
		prev.NeuralProfile != next.NeuralProfile {
		return true
	}
	if !reflect.DeepEqual(prev.UnlockedAchievements, next.UnlockedAchievements) {
		return true
	}
	return includeActivity && !reflect.DeepEqual(prev.ActivityHistory, next.ActivityHistory)
}
