package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cjeanneret/torchrec/internal/debug"
)

// Holder keeps the live configuration and reloads it when the file changes.
// Only fields that are safe to change while recording are meant to be read
// from reloads (debug level, slice duration); the rest is wired at startup.
type Holder struct {
	mu      sync.RWMutex
	current *Config
	path    string

	listenersMu sync.Mutex
	listeners   []chan<- *Config

	debounce time.Duration
}

// NewHolder wraps an already loaded config.
func NewHolder(initial *Config, path string) *Holder {
	return &Holder{
		current:  initial,
		path:     path,
		debounce: 300 * time.Millisecond,
	}
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers a channel receiving every successfully reloaded config.
// Sends are non-blocking; a full channel misses the update.
func (h *Holder) Subscribe(ch chan<- *Config) {
	h.listenersMu.Lock()
	h.listeners = append(h.listeners, ch)
	h.listenersMu.Unlock()
}

// Reload re-reads the file. On error the previous config is kept.
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = cfg
	h.mu.Unlock()

	if old != nil {
		if old.Defaults.DebugLevel != cfg.Defaults.DebugLevel {
			debug.Info("config: debug_level %d -> %d", old.Defaults.DebugLevel, cfg.Defaults.DebugLevel)
		}
		if old.Segment.SliceMs != cfg.Segment.SliceMs {
			debug.Info("config: slice_ms %d -> %d", old.Segment.SliceMs, cfg.Segment.SliceMs)
		}
	}

	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			debug.Verbose("config: listener busy, skipping reload notification")
		}
	}
	return nil
}

// Watch blocks watching the config file until ctx is done.
// Editors that replace the file are handled by watching its directory.
func (h *Holder) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dirOf(h.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	debug.Verbose("config: watching %s", h.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !sameFile(ev.Name, h.path) || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(h.debounce, func() {
				if err := h.Reload(); err != nil {
					debug.Warn(err, "config: automatic reload failed, keeping previous config")
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			debug.Warn(err, "config: watcher error")
		}
	}
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
