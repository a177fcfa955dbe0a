package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"riptide/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the content-type allowlist, rate-limit parameters, and
// cache TTL from a config file when it changes on disk, debounced the same
// way the teacher's mangle file watcher debounces rapid saves (500ms).
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	current     *atomic.Pointer[Config]
	debounceDur time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a Watcher for the config file at path. current is
// swapped atomically whenever a reload succeeds; callers read through it.
func NewWatcher(path string, current *atomic.Pointer[Config]) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     w,
		path:        path,
		current:     current,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the config file in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.path); err != nil {
		logging.Get(logging.CategoryBoot).Warn("config watcher: failed to watch %s: %v", w.path, err)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.lastEvent = time.Now()
				w.mu.Unlock()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Error("config watcher error: %v", err)
		case <-debounceTicker.C:
			w.maybeReload()
		}
	}
}

func (w *Watcher) maybeReload() {
	w.mu.Lock()
	last := w.lastEvent
	w.lastEvent = time.Time{}
	w.mu.Unlock()

	if last.IsZero() || time.Since(last) < w.debounceDur {
		if !last.IsZero() {
			w.mu.Lock()
			w.lastEvent = last
			w.mu.Unlock()
		}
		return
	}

	next, err := Load(w.path)
	if err != nil {
		logging.Get(logging.CategoryBoot).Error("config watcher: reload failed: %v", err)
		return
	}

	prev := w.current.Load()
	next.hotSwapFrom(prev)
	w.current.Store(next)
	logging.Reconfigure(next.LoggingSettings())
	logging.Get(logging.CategoryBoot).Info("config reloaded from %s", w.path)
}

// hotSwapFrom copies forward the sections that are not safe to hot-swap:
// Extractor, Browser, Server and CoreLimits. Every other section, including
// the cache TTL, content-type allowlist, rate-limit parameters and logging,
// takes the reloaded values.
func (c *Config) hotSwapFrom(prev *Config) {
	if prev == nil {
		return
	}
	c.Extractor = prev.Extractor
	c.Browser = prev.Browser
	c.Server = prev.Server
	c.CoreLimits = prev.CoreLimits
}
