// Copyright 2026 The Odd Jobs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runbookwatch hot-reloads compiled runbook JSON files from a
// directory. It is the external collaborator internal/runbook.Cache's own
// doc comment defers to: it decodes a runbook document, stores it in the
// cache directly (so the engine can resolve it on the very next
// CommandRun), and emits a RunbookLoaded event through the same sink the
// WAL appends, so the load survives a restart via replay.
package runbookwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/runbook"
)

// Sink receives the RunbookLoaded event once a file has been decoded and
// stored. The daemon wires this to the same sink the executor and
// scheduler feed, so a hot-reload is folded into the event stream like
// any other source.
type Sink func(events.Data)

// Store is the subset of *runbook.Cache the watcher writes to.
type Store interface {
	Store(rb runbook.Runbook) bool
}

// Watcher watches a directory of compiled runbook JSON files and loads
// each one into a Store as it is created or rewritten.
type Watcher struct {
	dir     string
	store   Store
	sink    Sink
	log     *slog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Watcher for dir. It does not start watching until Start
// is called.
func New(dir string, store Store, sink Sink, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:     absDir,
		store:   store,
		sink:    sink,
		log:     logger.With(slog.String("component", "runbookwatch"), slog.String("dir", absDir)),
		watcher: fsw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// LoadExisting decodes every *.json file already in the watched directory.
// Call it once at startup, before Start, so a daemon that restarts with
// an empty WAL (no prior RunbookLoaded to replay) still has every runbook
// on disk available before the first command arrives.
func (w *Watcher) LoadExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		w.load(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Start begins watching for file events in a background goroutine.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
}

// Stop releases the fsnotify watch and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
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
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("runbookwatch: watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	w.load(event.Name)
}

func (w *Watcher) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("runbookwatch: failed to read runbook file", "path", path, "error", err)
		return
	}
	rb, err := runbook.Decode(data)
	if err != nil {
		w.log.Error("runbookwatch: failed to decode runbook file", "path", path, "error", err)
		return
	}
	if !w.store.Store(rb) {
		w.log.Debug("runbookwatch: runbook content already cached", "path", path, "hash", rb.Hash)
		return
	}
	w.log.Info("runbookwatch: loaded runbook", "path", path, "project", rb.Project, "hash", rb.Hash)
	if w.sink != nil {
		w.sink(events.RunbookLoaded{Hash: rb.Hash, Version: rb.Version, JSON: rb.JSON})
	}
}
