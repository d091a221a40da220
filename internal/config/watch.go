// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes on disk.
//
// The containing directory is watched rather than the file itself so that
// editors that save by rename keep being observed.
type Watcher struct {
	path string
	w    *fsnotify.Watcher

	changes chan *Config
	errs    chan error
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWatcher starts watching path. The file does not need to be valid
// when watching starts; every reload is validated independently.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	cw := &Watcher{
		path:    abs,
		w:       w,
		changes: make(chan *Config, 1),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.loop()
	return cw, nil
}

// Changes delivers each successfully reloaded configuration. Only the
// latest unread configuration is kept.
func (cw *Watcher) Changes() <-chan *Config { return cw.changes }

// Errors delivers reload and watcher errors. Only the latest unread error
// is kept.
func (cw *Watcher) Errors() <-chan error { return cw.errs }

// Path returns the absolute path being watched.
func (cw *Watcher) Path() string { return cw.path }

// Close stops the watcher. It is safe to call more than once.
func (cw *Watcher) Close() error {
	var err error
	cw.once.Do(func() {
		close(cw.done)
		err = cw.w.Close()
		cw.wg.Wait()
	})
	return err
}

func (cw *Watcher) loop() {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.done:
			return
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(cw.path)
			if err != nil {
				publish(cw.errs, err)
				continue
			}
			publish(cw.changes, cfg)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			publish(cw.errs, err)
		}
	}
}

// publish replaces any unread value in ch. The loop is the only sender.
func publish[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
