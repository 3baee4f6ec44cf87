package progress

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultWatchSettle = 100 * time.Millisecond

// FileWatcher reloads a Store when another process rewrites its JSON blob.
type FileWatcher struct {
	store  *Store
	path   string
	settle time.Duration
	logger *zap.Logger
}

type FileWatcherOptions struct {
	// Settle coalesces bursts of events for the blob into one reload.
	Settle time.Duration
	Logger *zap.Logger
}

func NewFileWatcher(store *Store, path string, opts FileWatcherOptions) *FileWatcher {
	settle := opts.Settle
	if settle <= 0 {
		settle = defaultWatchSettle
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWatcher{
		store:  store,
		path:   filepath.Clean(path),
		settle: settle,
		logger: logger,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file so atomic renames are seen.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	w.logger.Debug("watching progress blob", zap.String("path", w.path))

	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("progress watcher error", zap.Error(err))
		case <-timer.C:
			if err := w.store.Reload(); err != nil {
				w.logger.Warn("reload progress blob failed", zap.String("path", w.path), zap.Error(err))
			}
		}
	}
}
