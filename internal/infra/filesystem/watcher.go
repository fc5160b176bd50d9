package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"spi-exam-service/internal/app"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Rebuilder republishes the catalog index.
type Rebuilder interface {
	BuildIndex(ctx context.Context) (*app.Index, error)
}

// Watcher rebuilds the index when anything under the catalog root changes.
type Watcher struct {
	root      string
	rebuilder Rebuilder
	logger    *zap.Logger
	debounce  time.Duration
}

func NewWatcher(root string, rebuilder Rebuilder, logger *zap.Logger, debounce time.Duration) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{root: root, rebuilder: rebuilder, logger: logger, debounce: debounce}
}

// Run blocks until ctx is done. Bursts of events collapse into one rebuild.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.watchTree(watcher); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
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
			if event.Op == fsnotify.Chmod {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			if _, err := w.rebuilder.BuildIndex(ctx); err != nil {
				w.logger.Error("rebuild after change failed", zap.Error(err))
			}
			// new mode or category directories need their own watches
			if err := w.watchTree(watcher); err != nil {
				w.logger.Warn("refresh watches failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("catalog watcher error", zap.Error(err))
		}
	}
}

// watchTree registers root and its mode and category directories.
func (w *Watcher) watchTree(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(w.root); err != nil {
		return err
	}
	modes, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, mode := range modes {
		modePath := filepath.Join(w.root, mode.Name())
		if !isDir(modePath, mode) {
			continue
		}
		if err := watcher.Add(modePath); err != nil {
			w.logger.Warn("watch mode directory", zap.String("path", modePath), zap.Error(err))
			continue
		}
		categories, err := os.ReadDir(modePath)
		if err != nil {
			continue
		}
		for _, cat := range categories {
			catPath := filepath.Join(modePath, cat.Name())
			if !isDir(catPath, cat) {
				continue
			}
			if err := watcher.Add(catPath); err != nil {
				w.logger.Warn("watch category directory", zap.String("path", catPath), zap.Error(err))
			}
		}
	}
	return nil
}
