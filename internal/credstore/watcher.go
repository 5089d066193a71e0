// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/sessiongate/internal/events"
	"github.com/jeranaias/sessiongate/internal/logging"
)

// =============================================================================
// CREDENTIAL FILE WATCHER
// =============================================================================

// Watcher observes the token file of a FileStore and publishes
// events.CredentialCleared whenever the file is removed or emptied, including
// by another sessiongate process. Subscribers decide whether the change
// concerns them.
type Watcher struct {
	path    string
	bus     *events.Bus
	log     *slog.Logger
	watcher *fsnotify.Watcher

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewWatcher prepares a watcher for the token file at path.
func NewWatcher(path string, bus *events.Bus, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:    filepath.Clean(path),
		bus:     bus,
		log:     logging.OrDiscard(log),
		watcher: fw,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Watch starts watching. The directory is watched rather than the file
// because atomic writes replace the file inode on every Set.
func (w *Watcher) Watch() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credential directory: %w", err)
	}
	w.started.Store(true)
	go w.processEvents()
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		if w.started.Load() {
			<-w.done
		}
	})
	return err
}

func (w *Watcher) processEvents() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("credential watcher panic", "panic", r)
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, ok := readTokenFile(w.path, w.log); !ok {
				w.log.Debug("credential file cleared externally", "op", event.Op.String())
				w.bus.Publish(events.CredentialCleared{Source: w.path})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("credential watcher error", "error", err)
		}
	}
}
