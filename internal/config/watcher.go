package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Listener is invoked with the freshly loaded config after the watched file
// changes and passes validation.
type Listener func(*Config)

// Watcher reloads the config file when it changes on disk and notifies
// registered listeners. Editors and config management tools typically
// replace files by rename, so the watch is placed on the parent directory
// and events are filtered by name.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	listeners []Listener
}

// NewWatcher creates a watcher for the config file at path. Call Run to
// start it.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: path, watcher: fsw}, nil
}

// Subscribe registers a listener for reloaded configs.
func (w *Watcher) Subscribe(fn Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Run watches until ctx is cancelled. Rapid event bursts from a single save
// are debounced before reloading.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watch error: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[config] reload of %s failed, keeping previous config: %v", w.path, err)
		return
	}
	log.Printf("[config] reloaded %s", w.path)

	w.mu.Lock()
	listeners := make([]Listener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}
