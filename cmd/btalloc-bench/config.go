package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// tuning holds the knobs a running bench can reload without a restart.
type tuning struct {
	InitialReserve uintptr `json:"initialReserve"`
	TracePath      string  `json:"tracePath"`
	Verbose        bool    `json:"verbose"`
}

func defaultTuning() tuning {
	return tuning{
		InitialReserve: 4096,
		TracePath:      "",
		Verbose:        false,
	}
}

// configWatcher holds the live tuning value and keeps it current by
// watching its backing file with fsnotify, the same watch-and-reload
// idiom internal/runtime/vfs.FSNotifyWatcher wraps for the rest of the
// toolchain's filesystem layer.
type configWatcher struct {
	path string

	mu   sync.RWMutex
	cur  tuning
	errC chan error

	reloads int64
}

// loadConfigFile reads a JSON tuning file, falling back to defaults
// for any field it omits.
func loadConfigFile(path string) (tuning, error) {
	cfg := defaultTuning()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tuning{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return tuning{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// watchConfig loads path once and, if path is non-empty, starts
// watching it for writes so the bench can pick up tuning changes
// between runs without a restart. The returned close function must be
// called to release the fsnotify handle.
func watchConfig(path string) (*configWatcher, func() error, error) {
	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, nil, err
	}

	cw := &configWatcher{path: path, cur: cfg, errC: make(chan error, 1)}

	if path == "" {
		return cw, func() error { return nil }, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("config: create watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		_ = w.Close()

		return nil, nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go cw.loop(w)

	return cw, w.Close, nil
}

func (cw *configWatcher) loop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := loadConfigFile(cw.path)
			if err != nil {
				select {
				case cw.errC <- err:
				default:
				}

				continue
			}

			cw.mu.Lock()
			cw.cur = cfg
			cw.mu.Unlock()

			atomic.AddInt64(&cw.reloads, 1)

		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (cw *configWatcher) current() tuning {
	cw.mu.RLock()
	defer cw.mu.RUnlock()

	return cw.cur
}

func (cw *configWatcher) reloadCount() int64 {
	return atomic.LoadInt64(&cw.reloads)
}
