package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/extract"
)

// Watcher calls a trigger once file activity under the roots has been quiet for the
// debounce interval.
type Watcher struct {
	manager  *Manager
	debounce time.Duration
	trigger  func(ctx context.Context) error
}

// NewWatcher creates a watcher. trigger runs on the watcher goroutine, so runs never overlap.
func NewWatcher(manager *Manager, debounce time.Duration, trigger func(ctx context.Context) error) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{manager: manager, debounce: debounce, trigger: trigger}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	for _, root := range w.manager.Roots() {
		if err := addTree(fw, root); err != nil {
			return err
		}
	}
	logger.InfoContext(ctx, "watching document roots", "roots", w.manager.Roots(), "debounce", w.debounce)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(fw, event) {
				pending = true
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "file watcher error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := w.trigger(ctx); err != nil {
				logger.ErrorContext(ctx, "reconcile after file change failed", "error", err)
			}
		}
	}
}

// handleEvent reports whether event touches a library document. New directories are added to
// the watch set.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if isHidden(filepath.Base(event.Name)) {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = addTree(fw, event.Name)
			return true
		}
	}
	return extract.Supported(event.Name)
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
