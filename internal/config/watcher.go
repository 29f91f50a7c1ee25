package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// debounceDelay coalesces the burst of write events editors emit when
// saving a file.
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
//
// The parent directory is watched rather than the file itself, so
// rename-and-replace saves are picked up. Reloads that fail validation
// are dropped; the previous config stays in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *Config
	stop    chan struct{}
	current *Config
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(configPath string, current *Config) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		path:    configPath,
		watcher: watcher,
		updates: make(chan *Config, 1),
		stop:    make(chan struct{}),
		current: current,
	}, nil
}

// Start begins watching for config changes.
//
// Runs a background goroutine that sends reloaded configs to Updates().
// Call Stop() to clean up resources.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	go w.processEvents(ctx)

	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Updates returns the channel carrying reloaded configs.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// processEvents debounces filesystem events and reloads the config.
func (w *Watcher) processEvents(ctx context.Context) {
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				fire = debounce.C
			} else {
				debounce.Reset(debounceDelay)
			}
		case <-fire:
			debounce = nil
			fire = nil
			w.reload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload loads the config file and publishes it if it changed.
func (w *Watcher) reload() {
	cfg, err := LoadWithFile(w.path)
	if err != nil {
		return
	}

	if reflect.DeepEqual(cfg, w.current) {
		return
	}
	w.current = cfg

	// Non-blocking send; a pending update is replaced by draining first.
	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- cfg:
	default:
	}
}
