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

package engine

import (
	"encoding/json"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
)

// handleWorkerWake issues a PollQueue effect (the worker's list command)
// for an out-of-cadence or scheduled wake, whenever the worker is running
// and has a free slot. It does not distinguish queue backings, and the
// engine has no QueuePushed handler.
func (e *Engine) handleWorkerWake(ms *state.MaterializedState, d events.WorkerWake, r *Result) {
	w, ok := ms.Workers[d.Scoped]
	if !ok || w.Status != state.WorkerRunning {
		return
	}
	rb, err := e.Runbooks.Get(w.RunbookHash)
	if err != nil {
		e.warn("worker wake: runbook missing", "worker", d.Scoped, "error", err)
		return
	}
	workerDef, ok := rb.Workers[d.Scoped.Name()]
	if !ok {
		return
	}
	free := freeSlots(w)
	if free <= 0 {
		return
	}
	r.effect(effects.PollQueue{
		Worker:  d.Scoped,
		Project: w.Project,
		ListCmd: workerDef.ListCmd,
		Cwd:     w.Path,
	})
}

func freeSlots(w *state.Worker) int {
	active := 0
	for range w.Owners {
		active++
	}
	free := w.Concurrency - active
	if free < 0 {
		return 0
	}
	return free
}

// handleWorkerPolled claims up to the worker's free concurrency from the
// reported candidates via TakeQueueItem, one effect per candidate.
func (e *Engine) handleWorkerPolled(ms *state.MaterializedState, d events.WorkerPolled, r *Result) {
	w, ok := ms.Workers[d.Scoped]
	if !ok || w.Status != state.WorkerRunning {
		return
	}
	rb, err := e.Runbooks.Get(w.RunbookHash)
	if err != nil {
		return
	}
	workerDef, ok := rb.Workers[d.Scoped.Name()]
	if !ok {
		return
	}

	var candidates []json.RawMessage
	if err := json.Unmarshal(d.Items, &candidates); err != nil {
		e.warn("worker polled: malformed candidate list", "worker", d.Scoped, "error", err)
		return
	}

	free := freeSlots(w)
	for i, item := range candidates {
		if i >= free {
			break
		}
		r.effect(effects.TakeQueueItem{
			Worker:  d.Scoped,
			Project: w.Project,
			TakeCmd: workerDef.TakeCmd,
			Cwd:     w.Path,
			ItemID:  candidateID(item, i),
		})
	}
}

// candidateID pulls an "id" field from the candidate payload when present,
// falling back to a positional placeholder so a candidate missing one
// still gets a stable-for-this-poll identifier.
func candidateID(item json.RawMessage, index int) string {
	var withID struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(item, &withID) == nil && withID.ID != "" {
		return withID.ID
	}
	return itoa(index)
}

// handleWorkerTook materializes a child owner for a successfully-taken
// item (exit 0) and records the dispatch; a failed take is retried up to
// the owning queue's policy before being dead-lettered.
func (e *Engine) handleWorkerTook(ms *state.MaterializedState, d events.WorkerTook, r *Result) {
	w, ok := ms.Workers[d.Scoped]
	if !ok {
		return
	}
	rb, err := e.Runbooks.Get(w.RunbookHash)
	if err != nil {
		e.warn("worker took: runbook missing", "worker", d.Scoped, "error", err)
		return
	}

	if d.ExitCode != 0 {
		e.failTakeAttempt(ms, rb, w, d, r)
		return
	}

	workerDef, ok := rb.Workers[d.Scoped.Name()]
	if !ok {
		e.warn("worker took: worker not found in runbook", "worker", d.Scoped)
		return
	}

	owner := ids.NewJobOwner(ids.NewJobID())
	cmd := events.CommandRun{
		Owner:     owner,
		Project:   w.Project,
		InvokeDir: w.Path,
		Args:      map[string]string{"item": string(d.Item)},
	}

	r.emit(events.WorkerDispatched{Scoped: d.Scoped, Owner: owner, ItemID: d.ItemID})
	r.emit(events.QueueTaken{Scoped: d.Scoped, ItemID: d.ItemID})
	e.dispatchDirective(ms, cmd, rb, workerDef.Target, d.Scoped.Name(), r)
}

// failTakeAttempt records a failed take against the owning queue's retry
// policy, dead-lettering the item once attempts are exhausted.
func (e *Engine) failTakeAttempt(ms *state.MaterializedState, rb runbook.Runbook, w *state.Worker, d events.WorkerTook, r *Result) {
	r.emit(events.QueueFailed{Scoped: d.Scoped, ItemID: d.ItemID, Error: d.Stderr})

	attempts := w.TakeAttempts[d.ItemID] + 1
	policy := rb.Queues[w.Queue].Retry
	if policy.Attempts > 0 && attempts >= policy.Attempts {
		e.warn("worker take exhausted retries", "worker", d.Scoped, "item", d.ItemID, "attempts", attempts)
		r.emit(events.QueueDead{Scoped: d.Scoped, ItemID: d.ItemID})
		return
	}
	e.warn("worker take failed, will retry", "worker", d.Scoped, "item", d.ItemID, "attempt", attempts)
	r.emit(events.QueueRetry{Scoped: d.Scoped, ItemID: d.ItemID})
}
