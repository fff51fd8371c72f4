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

// Package scheduler arms and fires the daemon's composite timers
// (liveness, exit_deferred, cron cadence). It implements
// internal/executor's TimerScheduler.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/robfig/cron/v3"
)

// Sink receives a TimerStart event for every timer that fires.
type Sink func(events.Data)

// Scheduler owns every pending TimerID. Setting a timer under an ID
// already pending replaces it rather than stacking a second fire, per
// spec §5's "CancelTimer removes the timer if still pending" and the
// engine's own re-arm-on-every-tick convention for liveness and cron.
type Scheduler struct {
	log  *slog.Logger
	sink Sink

	mu     sync.Mutex
	timers map[ids.TimerID]*time.Timer
}

// New builds a Scheduler that reports fired timers to sink.
func New(logger *slog.Logger, sink Sink) *Scheduler {
	return &Scheduler{log: logger, sink: sink, timers: make(map[ids.TimerID]*time.Timer)}
}

// Set arms id to fire after d, replacing any timer already pending under
// the same id. The fire time is computed through a robfig/cron constant-
// delay schedule so cadence math (duration truncated to whole seconds,
// same as the library's cron-expression path) stays consistent with any
// future move to real cron-expression crons.
func (s *Scheduler) Set(id ids.TimerID, d time.Duration) {
	fireAt := cron.Every(d).Next(time.Now())
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[id]; ok {
		existing.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
}

// Cancel removes a pending timer. Already-fired timers are not
// "uncancelled" — this is a no-op if id isn't in the map.
func (s *Scheduler) Cancel(id ids.TimerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[id]; ok {
		existing.Stop()
		delete(s.timers, id)
	}
}

// Stop cancels every pending timer. Used during daemon shutdown so no
// stray TimerStart arrives after the event loop has stopped consuming.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(id ids.TimerID) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	s.sink(events.TimerStart{ID: id})
}
