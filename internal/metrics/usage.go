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

package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

const (
	// DefaultUsageMaxSize rotates usage.jsonl once it crosses 10MB.
	DefaultUsageMaxSize = 10 * 1024 * 1024
	// DefaultUsageGenerations keeps usage.jsonl plus this many numbered
	// backups (usage.jsonl.1 .. usage.jsonl.<n>).
	DefaultUsageGenerations = 3
)

// UsageRecord is one polled usage sample, as written to usage.jsonl.
type UsageRecord struct {
	TimestampMS  int64   `json:"ts_ms"`
	AgentID      string  `json:"agent_id"`
	AgentName    string  `json:"agent_name"`
	Owner        string  `json:"owner"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UsageWriter appends UsageRecord lines to a JSONL file, rotating it by
// renaming usage.jsonl -> usage.jsonl.1 -> usage.jsonl.2 (numbered
// generations, oldest dropped) once it crosses maxSize. Unlike a
// timestamp-named rotation scheme, fixed generation numbers keep the
// directory listing bounded without a separate cleanup pass.
type UsageWriter struct {
	mu          sync.Mutex
	path        string
	maxSize     int64
	generations int
	file        *os.File
	size        int64
}

// NewUsageWriter opens (creating if necessary) the usage log at path.
func NewUsageWriter(path string) (*UsageWriter, error) {
	w := &UsageWriter{path: path, maxSize: DefaultUsageMaxSize, generations: DefaultUsageGenerations}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *UsageWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("metrics: open usage log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("metrics: stat usage log: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends rec as one JSON line, rotating first if the file has
// already crossed maxSize.
func (w *UsageWriter) Write(rec UsageRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size >= w.maxSize {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metrics: marshal usage record: %w", err)
	}
	line = append(line, '\n')

	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("metrics: write usage record: %w", err)
	}
	w.size += int64(n)
	return nil
}

// rotate shifts usage.jsonl.<n-1> -> usage.jsonl.<n> down the chain,
// dropping the oldest generation, then reopens a fresh usage.jsonl.
func (w *UsageWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("metrics: close usage log for rotation: %w", err)
		}
	}

	oldest := fmt.Sprintf("%s.%d", w.path, w.generations)
	_ = os.Remove(oldest)
	for i := w.generations - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.path, i)
		to := fmt.Sprintf("%s.%d", w.path, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("metrics: rotate %s: %w", from, err)
		}
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("metrics: rotate current usage log: %w", err)
	}

	return w.open()
}

// Close flushes and closes the underlying file.
func (w *UsageWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
