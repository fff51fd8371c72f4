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

// Package queue is the persisted-queue service: push, list, take and drop
// against a queue's items in materialized state. No command under cmd/
// constructs a Service. It never runs inside the engine's pure Handle
// call: pushing and dropping an item append to the write-ahead log like
// any other mutation, and listing and taking read materialized state, so
// the queue's own contents stay crash-consistent with the rest of the
// daemon's state.
package queue

import (
	"container/heap"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/state"
)

// ErrEmpty is returned by Take when the named item is not on the queue.
var ErrEmpty = errors.New("queue: no pending items")

// Appender is the write-ahead log's append surface. It is the only way a
// Service mutates anything; every other read comes straight off the
// materialized snapshot.
type Appender interface {
	Append(data events.Data) (uint64, error)
}

// Reader is the read side of materialized state a Service needs.
type Reader interface {
	QueueItemsByScope(scoped ids.ScopedName) []state.QueueItem
	QueueItemByID(scoped ids.ScopedName, itemID string) (state.QueueItem, bool)
}

// Service implements push/list/take/drop against a persisted queue.
// Push and Drop append the relevant event to the log and return once
// it's durable; List and Take read materialized state. An appended
// change is visible to readers only after the daemon's own apply loop
// folds it in, so List/Take briefly
// lag a concurrent Push — acceptable since nothing here blocks the
// engine loop itself.
type Service struct {
	log    Appender
	reader Reader
	newID  func() string
}

// New builds a Service. newID generates item IDs for Push; pass nil to
// use a time-ordered default (ids.NewWorkspaceID-style uuid generation
// is overkill for a queue item so this package mints its own).
func New(log Appender, reader Reader, newID func() string) *Service {
	if newID == nil {
		newID = defaultItemID
	}
	return &Service{log: log, reader: reader, newID: newID}
}

// Push appends payload as a new pending item on scoped's queue and
// returns the minted item ID.
func (s *Service) Push(scoped ids.ScopedName, payload json.RawMessage) (string, error) {
	itemID := s.newID()
	if _, err := s.log.Append(events.QueuePushed{Scoped: scoped, ItemID: itemID, Payload: payload}); err != nil {
		return "", err
	}
	return itemID, nil
}

// List returns every Pending or Retry item on scoped's queue in priority order: a
// higher-priority field in the payload sorts first, ties break FIFO by
// push time. This is what a worker's list_cmd prints to stdout for
// internal/executor's PollQueue effect to pick up.
func (s *Service) List(scoped ids.ScopedName) []state.QueueItem {
	items := s.reader.QueueItemsByScope(scoped)
	pq := make(priorityQueue, 0, len(items))
	for _, it := range items {
		if it.Status != state.QueueItemPending && it.Status != state.QueueItemRetry {
			continue
		}
		pq = append(pq, it)
	}
	heap.Init(&pq)

	ordered := make([]state.QueueItem, 0, len(pq))
	for pq.Len() > 0 {
		ordered = append(ordered, heap.Pop(&pq).(state.QueueItem))
	}
	return ordered
}

// Take returns the named item's payload so a worker's take_cmd can hand
// it to internal/executor's TakeQueueItem effect. It does not itself
// mark the item Active — that happens when the engine folds in the
// WorkerTook event the take_cmd's exit produces, mirroring how an
// externally-listed item is claimed.
func (s *Service) Take(scoped ids.ScopedName, itemID string) (state.QueueItem, error) {
	item, ok := s.reader.QueueItemByID(scoped, itemID)
	if !ok {
		return state.QueueItem{}, ErrEmpty
	}
	return item, nil
}

// Drop removes an item without dead-lettering it, for operator-initiated
// cancellation of queued-but-not-yet-taken work.
func (s *Service) Drop(scoped ids.ScopedName, itemID string) error {
	_, err := s.log.Append(events.QueueDropped{Scoped: scoped, ItemID: itemID})
	return err
}

// priority is the optional field a queue item's payload may carry to
// jump the FIFO line; absent or zero sorts after any positive priority
// and before any negative one.
type priorityPayload struct {
	Priority int `json:"priority"`
}

func itemPriority(it state.QueueItem) int {
	var p priorityPayload
	if json.Unmarshal(it.Payload, &p) != nil {
		return 0
	}
	return p.Priority
}

// priorityQueue orders state.QueueItem by descending priority, then by
// ascending push time, matching the teacher's priority-then-FIFO
// ordering for its in-memory job queue.
type priorityQueue []state.QueueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	pi, pj := itemPriority(pq[i]), itemPriority(pq[j])
	if pi != pj {
		return pi > pj
	}
	return pq[i].PushedAt.Before(pq[j].PushedAt)
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(state.QueueItem)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

var idCounter int64

func defaultItemID() string {
	n := atomic.AddInt64(&idCounter, 1)
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + strconv.FormatInt(n, 10)
}
