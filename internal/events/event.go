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

package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one physical WAL record: a monotonic sequence number assigned at
// append time, a wall-clock timestamp, and a typed payload.
type Event struct {
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
	Data Data      `json:"data"`
}

// Kind returns the event's discriminator, delegating to its payload.
func (e Event) Kind() Kind {
	if e.Data == nil {
		return KindCustom
	}
	return e.Data.Kind()
}

// New wraps a payload into an unsequenced Event (the WAL assigns Seq on
// append).
func New(data Data) Event {
	return Event{Data: data}
}

// wireEvent is the on-disk/on-wire shape: the payload kind sits alongside
// its raw JSON so decoding can dispatch on kind before unmarshaling data.
type wireEvent struct {
	Seq  uint64          `json:"seq"`
	Kind Kind            `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements the tagged encoding: {seq, kind, at, data}.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = Custom{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	return json.Marshal(wireEvent{
		Seq:  e.Seq,
		Kind: data.Kind(),
		At:   e.At,
		Data: raw,
	})
}

// UnmarshalJSON implements the tagged decoding, falling back to Custom for
// any kind this build's registry does not know.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("events: decode envelope: %w", err)
	}

	ctor, ok := registry[w.Kind]
	if !ok {
		e.Seq = w.Seq
		e.At = w.At
		e.Data = Custom{OriginalKind: w.Kind, Raw: append([]byte(nil), w.Data...)}
		return nil
	}

	data := ctor()
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, data); err != nil {
			return fmt.Errorf("events: decode %s payload: %w", w.Kind, err)
		}
	}
	e.Seq = w.Seq
	e.At = w.At
	e.Data = derefData(data)
	return nil
}

// derefData unwraps the pointer a registry constructor hands back into the
// value type Data implementations are declared with (all payload Kind()
// methods have value receivers).
func derefData(p Data) Data {
	switch v := p.(type) {
	case *Shutdown:
		return *v
	case *RunbookLoaded:
		return *v
	case *CommandRun:
		return *v
	case *JobCreated:
		return *v
	case *JobAdvanced:
		return *v
	case *JobUpdated:
		return *v
	case *JobResume:
		return *v
	case *JobFailing:
		return *v
	case *JobCancelling:
		return *v
	case *JobCancel:
		return *v
	case *JobSuspending:
		return *v
	case *JobSuspend:
		return *v
	case *JobDeleted:
		return *v
	case *JobAttemptRecorded:
		return *v
	case *CrewAttemptRecorded:
		return *v
	case *StepStarted:
		return *v
	case *StepWaiting:
		return *v
	case *StepCompleted:
		return *v
	case *StepFailed:
		return *v
	case *ShellExited:
		return *v
	case *AgentWorking:
		return *v
	case *AgentWaiting:
		return *v
	case *AgentIdle:
		return *v
	case *AgentPrompt:
		return *v
	case *AgentStopBlocked:
		return *v
	case *AgentStopAllowed:
		return *v
	case *AgentFailed:
		return *v
	case *AgentExited:
		return *v
	case *AgentGone:
		return *v
	case *AgentInput:
		return *v
	case *AgentRespond:
		return *v
	case *AgentSpawned:
		return *v
	case *AgentSpawnFailed:
		return *v
	case *CrewCreated:
		return *v
	case *CrewStarted:
		return *v
	case *CrewUpdated:
		return *v
	case *CrewResume:
		return *v
	case *CrewDeleted:
		return *v
	case *WorkspaceCreated:
		return *v
	case *WorkspaceReady:
		return *v
	case *WorkspaceFailed:
		return *v
	case *WorkspaceDeleted:
		return *v
	case *WorkspaceDrop:
		return *v
	case *TimerStart:
		return *v
	case *CronStarted:
		return *v
	case *CronStopped:
		return *v
	case *CronOnce:
		return *v
	case *CronFired:
		return *v
	case *CronSkipped:
		return *v
	case *CronDeleted:
		return *v
	case *WorkerStarted:
		return *v
	case *WorkerWake:
		return *v
	case *WorkerPolled:
		return *v
	case *WorkerTook:
		return *v
	case *WorkerDispatched:
		return *v
	case *WorkerStopped:
		return *v
	case *WorkerResized:
		return *v
	case *WorkerDeleted:
		return *v
	case *QueuePushed:
		return *v
	case *QueueTaken:
		return *v
	case *QueueCompleted:
		return *v
	case *QueueFailed:
		return *v
	case *QueueDropped:
		return *v
	case *QueueRetry:
		return *v
	case *QueueDead:
		return *v
	case *DecisionCreated:
		return *v
	case *DecisionResolved:
		return *v
	default:
		return p
	}
}

// registry maps every known Kind to a constructor returning a pointer to
// its zero value, so UnmarshalJSON can allocate-then-decode generically.
var registry = map[Kind]func() Data{
	KindShutdown:         func() Data { return &Shutdown{} },
	KindRunbookLoaded:    func() Data { return &RunbookLoaded{} },
	KindCommandRun:       func() Data { return &CommandRun{} },
	KindJobCreated:       func() Data { return &JobCreated{} },
	KindJobAdvanced:      func() Data { return &JobAdvanced{} },
	KindJobUpdated:       func() Data { return &JobUpdated{} },
	KindJobResume:        func() Data { return &JobResume{} },
	KindJobFailing:       func() Data { return &JobFailing{} },
	KindJobCancelling:    func() Data { return &JobCancelling{} },
	KindJobCancel:        func() Data { return &JobCancel{} },
	KindJobSuspending:    func() Data { return &JobSuspending{} },
	KindJobSuspend:       func() Data { return &JobSuspend{} },
	KindJobDeleted:       func() Data { return &JobDeleted{} },
	KindJobAttemptRecorded: func() Data { return &JobAttemptRecorded{} },
	KindCrewAttemptRecorded: func() Data { return &CrewAttemptRecorded{} },
	KindStepStarted:      func() Data { return &StepStarted{} },
	KindStepWaiting:      func() Data { return &StepWaiting{} },
	KindStepCompleted:    func() Data { return &StepCompleted{} },
	KindStepFailed:       func() Data { return &StepFailed{} },
	KindShellExited:      func() Data { return &ShellExited{} },
	KindAgentWorking:     func() Data { return &AgentWorking{} },
	KindAgentWaiting:     func() Data { return &AgentWaiting{} },
	KindAgentIdle:        func() Data { return &AgentIdle{} },
	KindAgentPrompt:      func() Data { return &AgentPrompt{} },
	KindAgentStopBlocked: func() Data { return &AgentStopBlocked{} },
	KindAgentStopAllowed: func() Data { return &AgentStopAllowed{} },
	KindAgentFailed:      func() Data { return &AgentFailed{} },
	KindAgentExited:      func() Data { return &AgentExited{} },
	KindAgentGone:        func() Data { return &AgentGone{} },
	KindAgentInput:       func() Data { return &AgentInput{} },
	KindAgentRespond:     func() Data { return &AgentRespond{} },
	KindAgentSpawned:     func() Data { return &AgentSpawned{} },
	KindAgentSpawnFailed: func() Data { return &AgentSpawnFailed{} },
	KindCrewCreated:      func() Data { return &CrewCreated{} },
	KindCrewStarted:      func() Data { return &CrewStarted{} },
	KindCrewUpdated:      func() Data { return &CrewUpdated{} },
	KindCrewResume:       func() Data { return &CrewResume{} },
	KindCrewDeleted:      func() Data { return &CrewDeleted{} },
	KindWorkspaceCreated: func() Data { return &WorkspaceCreated{} },
	KindWorkspaceReady:   func() Data { return &WorkspaceReady{} },
	KindWorkspaceFailed:  func() Data { return &WorkspaceFailed{} },
	KindWorkspaceDeleted: func() Data { return &WorkspaceDeleted{} },
	KindWorkspaceDrop:    func() Data { return &WorkspaceDrop{} },
	KindTimerStart:       func() Data { return &TimerStart{} },
	KindCronStarted:      func() Data { return &CronStarted{} },
	KindCronStopped:      func() Data { return &CronStopped{} },
	KindCronOnce:         func() Data { return &CronOnce{} },
	KindCronFired:        func() Data { return &CronFired{} },
	KindCronSkipped:      func() Data { return &CronSkipped{} },
	KindCronDeleted:      func() Data { return &CronDeleted{} },
	KindWorkerStarted:    func() Data { return &WorkerStarted{} },
	KindWorkerWake:       func() Data { return &WorkerWake{} },
	KindWorkerPolled:     func() Data { return &WorkerPolled{} },
	KindWorkerTook:       func() Data { return &WorkerTook{} },
	KindWorkerDispatched: func() Data { return &WorkerDispatched{} },
	KindWorkerStopped:    func() Data { return &WorkerStopped{} },
	KindWorkerResized:    func() Data { return &WorkerResized{} },
	KindWorkerDeleted:    func() Data { return &WorkerDeleted{} },
	KindQueuePushed:      func() Data { return &QueuePushed{} },
	KindQueueTaken:       func() Data { return &QueueTaken{} },
	KindQueueCompleted:   func() Data { return &QueueCompleted{} },
	KindQueueFailed:      func() Data { return &QueueFailed{} },
	KindQueueDropped:     func() Data { return &QueueDropped{} },
	KindQueueRetry:       func() Data { return &QueueRetry{} },
	KindQueueDead:        func() Data { return &QueueDead{} },
	KindDecisionCreated:  func() Data { return &DecisionCreated{} },
	KindDecisionResolved: func() Data { return &DecisionResolved{} },
}
