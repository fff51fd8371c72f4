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

// Package wal implements the append-only event log: group-committed
// writes, sequential reads, and corruption-tolerant recovery that rotates
// a bad tail aside rather than ever handing a partial record to the
// runtime.
package wal

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/events"
	oerrors "github.com/oddjobs/oddjobs/pkg/errors"
)

// maxBackups is how many rotated ".bak" generations are retained; the 4th
// consecutive corruption evicts the oldest.
const maxBackups = 3

// Config controls group-commit batching.
type Config struct {
	FlushInterval time.Duration
	BatchSize     int
}

// DefaultConfig matches the ~10ms group-commit window named in the design.
func DefaultConfig() Config {
	return Config{FlushInterval: 10 * time.Millisecond, BatchSize: 64}
}

// WAL is the append-only log backing a single daemon state directory.
type WAL struct {
	mu sync.Mutex

	path   string
	file   *os.File
	writer *bufio.Writer

	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	writeSeq     uint64
	processedSeq uint64
	pendingBytes int
	lastFlush    time.Time
}

// Open opens (or creates) the log at dir/events.wal. On open it scans from
// the start; the first line that fails to decode is treated as the
// corruption boundary: the file is rotated aside as a ".bak" generation
// (keeping at most 3) and a clean file containing only the valid prefix
// replaces it.
func Open(dir string, cfg Config, clk clock.Clock, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, oerrors.Wrap(err, "wal: create directory")
	}
	path := filepath.Join(dir, "events.wal")

	validPrefix, lastSeq, corrupt, err := scan(path)
	if err != nil {
		return nil, oerrors.Wrap(err, "wal: scan existing log")
	}

	if corrupt {
		if err := rotateCorrupt(dir, path); err != nil {
			return nil, oerrors.Wrap(err, "wal: rotate corrupt log")
		}
		if err := os.WriteFile(path, validPrefix, 0o644); err != nil {
			return nil, oerrors.Wrap(err, "wal: rewrite clean prefix")
		}
		logger.Warn("wal corruption detected, rotated bad tail aside", slog.String("path", path))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, oerrors.Wrap(err, "wal: open log for append")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}

	w := &WAL{
		path:         path,
		file:         f,
		writer:       bufio.NewWriter(f),
		cfg:          cfg,
		clock:        clk,
		log:          logger,
		writeSeq:     lastSeq,
		processedSeq: 0,
		lastFlush:    clk.Now(),
	}
	return w, nil
}

// scan reads path line-by-line, decoding each as an Event. It stops at the
// first line that fails to decode and reports whether corruption was
// found, the byte-exact valid prefix, and the highest sequence number seen.
func scan(path string) (prefix []byte, lastSeq uint64, corrupt bool, err error) {
	f, openErr := os.Open(path)
	if os.IsNotExist(openErr) {
		return nil, 0, false, nil
	}
	if openErr != nil {
		return nil, 0, false, openErr
	}
	defer f.Close()

	var buf []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		e, decodeErr := events.Decode(line)
		if decodeErr != nil {
			return buf, lastSeq, true, nil
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
		lastSeq = e.Seq
	}
	if scanErr := scanner.Err(); scanErr != nil {
		// A scan error (e.g. a line exceeding the buffer, or a read error
		// on a truncated file) is itself a corruption boundary, not a
		// fatal open error: per spec, a corrupt record must never
		// propagate to the runtime.
		return buf, lastSeq, true, nil
	}
	return buf, lastSeq, false, nil
}

// rotateCorrupt moves path aside as events.bak, shifting any existing
// .bak/.bak.2/.bak.3 up one generation and evicting the oldest.
func rotateCorrupt(dir, path string) error {
	gen := func(n int) string {
		if n == 1 {
			return filepath.Join(dir, "events.bak")
		}
		return filepath.Join(dir, fmt.Sprintf("events.bak.%d", n))
	}

	// Evict the oldest generation if all three slots are occupied.
	if _, err := os.Stat(gen(maxBackups)); err == nil {
		if err := os.Remove(gen(maxBackups)); err != nil {
			return err
		}
	}
	for n := maxBackups - 1; n >= 1; n-- {
		if _, err := os.Stat(gen(n)); err == nil {
			if err := os.Rename(gen(n), gen(n+1)); err != nil {
				return err
			}
		}
	}
	return os.Rename(path, gen(1))
}

// Append assigns the next monotonic sequence number, buffers the encoded
// record, and flushes when the batch-size or time threshold is reached.
func (w *WAL) Append(data events.Data) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writeSeq++
	e := events.Event{Seq: w.writeSeq, At: w.clock.Now(), Data: data}

	raw, err := events.Encode(e)
	if err != nil {
		w.writeSeq--
		return 0, oerrors.Wrap(err, "wal: encode event")
	}

	if _, err := w.writer.Write(raw); err != nil {
		return 0, oerrors.Wrap(err, "wal: write event")
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return 0, oerrors.Wrap(err, "wal: write record separator")
	}
	w.pendingBytes += len(raw) + 1

	if w.pendingBytes >= w.cfg.BatchSize*128 || w.clock.Now().Sub(w.lastFlush) >= w.cfg.FlushInterval {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}
	return e.Seq, nil
}

// Flush forces buffered writes to durable storage.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return oerrors.Wrap(err, "wal: flush buffer")
	}
	if err := w.file.Sync(); err != nil {
		return oerrors.Wrap(err, "wal: fsync")
	}
	w.pendingBytes = 0
	w.lastFlush = w.clock.Now()
	return nil
}

// NeedsFlush reports whether the configured flush interval has elapsed
// since the last flush and there is unflushed data. No command under
// cmd/ polls it.
func (w *WAL) NeedsFlush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingBytes > 0 && w.clock.Now().Sub(w.lastFlush) >= w.cfg.FlushInterval
}

// WriteSeq returns the highest sequence number assigned so far.
func (w *WAL) WriteSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeSeq
}

// ProcessedSeq returns the highest sequence number the runtime has
// consumed via NextUnprocessed/MarkProcessed.
func (w *WAL) ProcessedSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processedSeq
}

// MarkProcessed records that seq (and everything before it) has been
// handed to the runtime, advancing the read cursor.
func (w *WAL) MarkProcessed(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.processedSeq {
		w.processedSeq = seq
	}
}

// NextUnprocessed returns the next event after processedSeq, or ok=false
// if there is none (including if the next physical record fails to
// decode — corruption never propagates to the caller).
func (w *WAL) NextUnprocessed() (events.Event, bool) {
	entries, err := w.EntriesAfter(w.ProcessedSeq())
	if err != nil || len(entries) == 0 {
		return events.Event{}, false
	}
	return entries[0], true
}

// EntriesAfter returns every successfully-decoded event with Seq > after,
// in order. A decode failure mid-file truncates the returned slice at
// that point rather than erroring, consistent with the WAL's
// never-propagate-corruption policy.
func (w *WAL) EntriesAfter(after uint64) ([]events.Event, error) {
	w.mu.Lock()
	path := w.path
	w.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oerrors.Wrap(err, "wal: open for read")
	}
	defer f.Close()

	var out []events.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		e, decodeErr := events.Decode(scanner.Bytes())
		if decodeErr != nil {
			break
		}
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// TruncateBefore drops all records with Seq < before from the on-disk
// log, to bound log growth after a checkpoint; no command under cmd/
// calls it. It
// rewrites the file via a temp-then-rename so a crash mid-truncate never
// leaves a half-written log.
func (w *WAL) TruncateBefore(before uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return oerrors.Wrap(err, "wal: flush before truncate")
	}

	entries, err := w.entriesAfterLocked(before - 1)
	if err != nil {
		return err
	}

	tmp := w.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return oerrors.Wrap(err, "wal: create truncate tmp")
	}
	bw := bufio.NewWriter(tf)
	for _, e := range entries {
		raw, encErr := events.Encode(e)
		if encErr != nil {
			tf.Close()
			return oerrors.Wrap(encErr, "wal: re-encode during truncate")
		}
		bw.Write(raw)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		tf.Close()
		return oerrors.Wrap(err, "wal: flush truncate tmp")
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		return oerrors.Wrap(err, "wal: fsync truncate tmp")
	}
	tf.Close()

	if err := os.Rename(tmp, w.path); err != nil {
		return oerrors.Wrap(err, "wal: rename truncated log into place")
	}

	w.file.Close()
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return oerrors.Wrap(err, "wal: reopen after truncate")
	}
	w.file = f
	w.writer = bufio.NewWriter(f)
	return nil
}

func (w *WAL) entriesAfterLocked(after uint64) ([]events.Event, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []events.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		e, decodeErr := events.Decode(scanner.Bytes())
		if decodeErr != nil {
			break
		}
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close flushes and releases the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
