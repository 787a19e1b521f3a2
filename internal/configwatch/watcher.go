// Package configwatch reloads the active rubric when its file changes on
// disk, for example after a profile promotion or rollback.
package configwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/readyscore/readyscore/pkg/scoring"
)

// DefaultDebounce coalesces the burst of events an atomic save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher swaps a reloaded rubric into an ActiveConfig.
type Watcher struct {
	path     string
	active   *scoring.ActiveConfig
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	onReload func(*scoring.Config, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// OnReload registers a callback invoked after every reload attempt, with
// the installed rubric or the error that kept the old one in force.
func OnReload(fn func(*scoring.Config, error)) Option {
	return func(w *Watcher) { w.onReload = fn }
}

// New creates a watcher for the rubric file at path. The file's directory
// is watched rather than the file itself, since atomic saves replace the
// inode.
func New(path string, active *scoring.ActiveConfig, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		active:   active,
		watcher:  fw,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	return w, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Reset on a running timer discards any stale tick (Go 1.23 timers).
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rubric watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := scoring.LoadConfig(w.path)
	if err == nil {
		err = w.active.Swap(cfg)
	}
	if err != nil {
		w.logger.Error("rubric reload failed; keeping previous rubric", "path", w.path, "error", err)
	} else {
		w.logger.Info("rubric reloaded", "path", w.path, "version", cfg.Version)
	}
	if w.onReload != nil {
		w.onReload(cfg, err)
	}
}
