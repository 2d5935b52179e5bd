package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
)

const reloadDebounce = 250 * time.Millisecond

// PolicyWatcher reloads the policy file when it changes on disk and hands
// every valid revision to apply. An invalid revision is logged and the
// policy in force is kept.
type PolicyWatcher struct {
	path     string
	cfg      Config
	apply    func(engine.Policy)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
}

// WatchPolicy starts watching path. The directory is watched rather than the
// file so that editors which save by rename are still seen.
func WatchPolicy(ctx context.Context, path string, cfg Config, apply func(engine.Policy), logger *slog.Logger) (*PolicyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	pw := &PolicyWatcher{
		path:     abs,
		cfg:      cfg,
		apply:    apply,
		logger:   logger,
		watcher:  w,
		debounce: reloadDebounce,
		done:     make(chan struct{}),
	}
	go pw.run(ctx)
	return pw, nil
}

// Close stops the watcher and waits for its loop to exit.
func (pw *PolicyWatcher) Close() error {
	err := pw.watcher.Close()
	<-pw.done
	return err
}

func (pw *PolicyWatcher) run(ctx context.Context) {
	defer close(pw.done)

	timer := time.NewTimer(pw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(pw.debounce)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("policy watcher error", "error", err)

		case <-timer.C:
			pw.reload()
		}
	}
}

func (pw *PolicyWatcher) reload() {
	p, err := LoadPolicy(pw.path)
	if err != nil {
		pw.logger.Warn("policy reload rejected, keeping current policy", "path", pw.path, "error", err)
		return
	}
	pw.cfg.ApplyTimeouts(&p, p)
	pw.apply(p)
	pw.logger.Info("policy reloaded", "path", pw.path)
}
