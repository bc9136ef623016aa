package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the gate configuration when the file on disk changes.
// Reload is the only path that rebuilds compiled pipeline state (policy
// table, detection patterns); nothing recompiles per-request.
type Watcher struct {
	path         string
	fs           *fsnotify.Watcher
	reload       func(string) error
	logger       *slog.Logger
	debounceTime time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher builds a watcher for the given config file. The reload
// callback receives the config path and runs on the watch goroutine.
func NewWatcher(configPath string, reload func(string) error, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:         abs,
		fs:           fs,
		reload:       reload,
		logger:       logger,
		debounceTime: time.Second,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start watches the config file's directory. Repeated calls are no-ops
// while the watcher is running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("config watcher started", "config_path", w.path)
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher and releases its file handles.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.fs.Close()
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context) {
	// Writes often arrive in bursts (truncate, then one or more data
	// chunks); the timer collapses a burst into a single reload.
	debounce := time.NewTimer(w.debounceTime)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write | fsnotify.Create) {
				continue
			}
			if abs, err := filepath.Abs(event.Name); err != nil || abs != w.path {
				continue
			}
			w.logger.Debug("config file event", "op", event.Op.String())
			debounce.Reset(w.debounceTime)

		case <-debounce.C:
			start := time.Now()
			if err := w.reload(w.path); err != nil {
				w.logger.Error("config reload failed", "error", err, "duration", time.Since(start))
				continue
			}
			w.logger.Info("config reloaded", "config_path", w.path, "duration", time.Since(start))

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}
