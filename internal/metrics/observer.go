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
	"sync"
	"time"

	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
)

// JobKindResolver resolves a job's kind for the step-duration histogram's
// job_kind label. *state.MaterializedState satisfies this via JobKind.
type JobKindResolver interface {
	JobKind(id ids.JobID) (string, bool)
}

// Observer watches the event stream (the same events.Data values the WAL
// appends) and folds StepStarted/StepCompleted/StepFailed/CronFired/
// CronSkipped into the package-level prometheus collectors. It holds no
// state beyond in-flight step start times, since everything else it needs
// (job kind) is read through resolver at observe time rather than cached,
// keeping it correct across a daemon restart mid-step.
type Observer struct {
	clk      clock.Clock
	resolver JobKindResolver

	mu     sync.Mutex
	starts map[stepKey]int64 // job_id+step -> start time, unix ms
}

type stepKey struct {
	jobID ids.JobID
	step  string
}

// NewObserver builds an Observer. resolver may be nil, in which case step
// durations are recorded with an empty job_kind label.
func NewObserver(clk clock.Clock, resolver JobKindResolver) *Observer {
	return &Observer{clk: clk, resolver: resolver, starts: make(map[stepKey]int64)}
}

// Observe matches the Sink signature used throughout the daemon (executor,
// agent router, scheduler), so a caller composes it directly:
//
//	sink := func(d events.Data) { obs.Observe(d); appender.Append(d) }
func (o *Observer) Observe(d events.Data) {
	switch ev := d.(type) {
	case events.StepStarted:
		o.recordStart(ev.JobID, ev.Step)
	case events.StepCompleted:
		o.recordEnd(ev.JobID, ev.Step, "ok")
	case events.StepFailed:
		o.recordEnd(ev.JobID, ev.Step, "failed")
	case events.CronFired:
		RecordCronFire(ev.Scoped.Project() + ":" + ev.Scoped.Name())
	case events.CronSkipped:
		RecordCronSkip(ev.Scoped.Project()+":"+ev.Scoped.Name(), ev.Reason)
	}
}

func (o *Observer) recordStart(jobID ids.JobID, step string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts[stepKey{jobID, step}] = o.clk.Now().UnixMilli()
}

func (o *Observer) recordEnd(jobID ids.JobID, step, outcome string) {
	key := stepKey{jobID, step}
	o.mu.Lock()
	startMS, ok := o.starts[key]
	if ok {
		delete(o.starts, key)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	jobKind := ""
	if o.resolver != nil {
		jobKind, _ = o.resolver.JobKind(jobID)
	}
	d := o.clk.Now().UnixMilli() - startMS
	if d < 0 {
		d = 0
	}
	ObserveStepDuration(jobKind, step, outcome, time.Duration(d)*time.Millisecond)
}
