package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is called with each successfully reloaded configuration.
type ReloadFunc func(*Config)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path          string
	cli           CLI
	onReload      ReloadFunc
	logger        *slog.Logger
	debounceDelay time.Duration

	fs        *fsnotify.Watcher
	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long to wait after the last event before reloading.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// NewWatcher creates a Watcher for the config file behind cfg.
// CLI overrides are re-applied on every reload.
func NewWatcher(cfg *Config, cli *CLI, onReload ReloadFunc, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	if cfg.filePath == "" {
		return nil, fmt.Errorf("config watcher: no config file in use")
	}
	abs, err := filepath.Abs(cfg.filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	w := &Watcher{
		path:          abs,
		cli:           *cli,
		onReload:      onReload,
		logger:        logger.With("component", "config_watcher"),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching the directory that holds the config file. Editors
// often replace files rather than write them in place, so the directory is
// watched instead of the file itself.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(w.path)); err != nil {
		_ = fs.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fs = fs
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.running = true

	w.logger.Info("watching config file", "path", w.path)
	go w.loop()
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop(_ context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	return w.fs.Close()
}

func (w *Watcher) loop() {
	defer close(w.stoppedCh)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cli := w.cli
	cli.Config = w.path

	cfg, err := Load(&cli)
	if err != nil {
		w.logger.Error("config reload rejected; keeping previous configuration", "err", err)
		return
	}

	w.logger.Info("config reloaded", "upstream_url", cfg.Upstream.BaseURL)
	w.onReload(cfg)
}
