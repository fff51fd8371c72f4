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

package state

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	goerrors "errors"

	"github.com/oddjobs/oddjobs/internal/ids"
	oerrors "github.com/oddjobs/oddjobs/pkg/errors"
)

// snapshotDoc is the gzip+JSON on-disk representation of a
// MaterializedState, stamped with the sequence number it was taken at so
// replay on load resumes from Seq+1.
type snapshotDoc struct {
	Seq        uint64                                    `json:"seq"`
	Jobs       map[ids.JobID]*Job                        `json:"jobs"`
	Crew       map[ids.CrewID]*Crew                      `json:"crew"`
	Agents     map[ids.AgentID]*AgentRecord               `json:"agents"`
	Workspaces map[ids.WorkspaceID]*Workspace             `json:"workspaces"`
	Workers    map[ids.ScopedName]*Worker                 `json:"workers"`
	Crons      map[ids.ScopedName]*Cron                   `json:"crons"`
	QueueItems map[ids.ScopedName]map[string]*QueueItem   `json:"queue_items"`
	Decisions  map[ids.DecisionID]*Decision                `json:"decisions"`
	Runbooks   map[string]*StoredRunbook                   `json:"runbooks"`
}

// Save writes a gzip-compressed JSON snapshot of ms to path, via a .tmp
// file and atomic rename so a crash mid-write never leaves a partial
// snapshot at the real path.
func Save(ms *MaterializedState, path string) error {
	ms.mu.RLock()
	doc := snapshotDoc{
		Seq:        ms.Seq,
		Jobs:       ms.Jobs,
		Crew:       ms.Crew,
		Agents:     ms.Agents,
		Workspaces: ms.Workspaces,
		Workers:    ms.Workers,
		Crons:      ms.Crons,
		QueueItems: ms.QueueItems,
		Decisions:  ms.Decisions,
		Runbooks:   ms.Runbooks,
	}
	ms.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state: create snapshot dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("state: open snapshot tmp file: %w", err)
	}

	gz := gzip.NewWriter(f)
	encErr := json.NewEncoder(gz).Encode(doc)
	closeGzErr := gz.Close()
	syncErr := f.Sync()
	closeErr := f.Close()

	if err := goerrors.Join(encErr, closeGzErr, syncErr, closeErr); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: write snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads a gzip-compressed JSON snapshot from path. A missing file is
// not an error: the daemon starts from an empty state and replays the
// full WAL. Any other read/decode failure is a CorruptionError — unlike
// WAL corruption, snapshot corruption is never silently truncated,
// because the snapshot carries no internal redundancy to recover a valid
// prefix from.
func Load(path string) (*MaterializedState, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, &oerrors.CorruptionError{Source: "snapshot", Detail: "cannot open snapshot file", Cause: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, &oerrors.CorruptionError{Source: "snapshot", Detail: "not a valid gzip stream", Cause: err}
	}
	defer gz.Close()

	var doc snapshotDoc
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return nil, &oerrors.CorruptionError{Source: "snapshot", Detail: "malformed snapshot JSON", Cause: err}
	}

	ms := New()
	ms.Seq = doc.Seq
	if doc.Jobs != nil {
		ms.Jobs = doc.Jobs
	}
	if doc.Crew != nil {
		ms.Crew = doc.Crew
	}
	if doc.Agents != nil {
		ms.Agents = doc.Agents
	}
	if doc.Workspaces != nil {
		ms.Workspaces = doc.Workspaces
	}
	if doc.Workers != nil {
		ms.Workers = doc.Workers
	}
	if doc.Crons != nil {
		ms.Crons = doc.Crons
	}
	if doc.QueueItems != nil {
		ms.QueueItems = doc.QueueItems
	}
	if doc.Decisions != nil {
		ms.Decisions = doc.Decisions
	}
	if doc.Runbooks != nil {
		ms.Runbooks = doc.Runbooks
	}
	return ms, nil
}
