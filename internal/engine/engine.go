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

// Package engine is the pure (state, event) -> (follow-up events, effects)
// runtime. It never mutates MaterializedState itself and never performs
// I/O; the caller applies an event, calls Handle against the post-apply
// state, persists the returned events, and hands the returned effects to
// the executor.
package engine

import (
	"log/slog"

	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
)

// Result is what Handle returns: the follow-up events to persist and the
// side effects to hand to the executor, in no particular causal order —
// both lists are independent outcomes of the same event.
type Result struct {
	Events  []events.Data
	Effects []effects.Effect
}

func (r *Result) emit(d events.Data) { r.Events = append(r.Events, d) }
func (r *Result) effect(e effects.Effect) { r.Effects = append(r.Effects, e) }

// Engine holds the engine's two pieces of read-only collaborator state: the
// runbook cache (for step/agent/worker/cron definitions) and a Clock (for
// anything that needs "now", such as the ResolvedAtMS stamp on a decision
// that a resume supersedes; event timestamps are stamped at append time).
type Engine struct {
	Runbooks *runbook.Cache
	Clock    clock.Clock
	Logger   *slog.Logger
}

// New builds an Engine. A nil logger falls back to slog.Default().
func New(runbooks *runbook.Cache, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Runbooks: runbooks, Clock: clk, Logger: logger}
}

// Handle is the single entry point: given the event that was just applied
// to ms, return the follow-up events and effects it implies. It never
// panics on a malformed or unexpected state — invariant-violating cases
// are logged and converted into a step failure or simply ignored, per the
// propagation policy.
func (e *Engine) Handle(ms *state.MaterializedState, ev events.Event) Result {
	var r Result

	switch d := ev.Data.(type) {
	case events.CommandRun:
		e.handleCommandRun(ms, d, &r)
	case events.JobCreated:
		e.handleJobCreated(ms, d, &r)
	case events.CrewCreated:
		e.handleCrewCreated(ms, d, &r)
	case events.StepStarted:
		e.handleStepStarted(ms, d, &r)
	case events.ShellExited:
		e.handleShellExited(ms, d, &r)
	case events.WorkspaceReady:
		e.handleWorkspaceReady(ms, d, &r)
	case events.WorkspaceFailed:
		e.handleWorkspaceFailed(ms, d, &r)

	case events.AgentWorking:
		// No dispatch: the agent is actively processing. Nothing follows.
	case events.AgentWaiting:
		e.dispatchIdleLikeSignal(ms, d.AgentID, triggerIdle, &r)
	case events.AgentIdle:
		e.dispatchIdleLikeSignal(ms, d.AgentID, triggerIdle, &r)
	case events.AgentStopBlocked:
		e.dispatchIdleLikeSignal(ms, d.AgentID, triggerStopBlocked, &r)
	case events.AgentStopAllowed:
		e.dispatchIdleLikeSignal(ms, d.AgentID, triggerStopAllowed, &r)
	case events.AgentPrompt:
		e.handleAgentPrompt(ms, d, &r)
	case events.AgentFailed:
		e.handleAgentFailed(ms, d, &r)
	case events.AgentExited:
		e.handleAgentExited(ms, d, &r)
	case events.AgentGone:
		e.handleAgentGone(ms, d, &r)
	case events.AgentSpawnFailed:
		e.handleAgentSpawnFailed(ms, d, &r)

	case events.JobResume:
		e.handleJobResume(ms, d, &r)
	case events.CrewResume:
		e.handleCrewResume(ms, d, &r)
	case events.JobCancel:
		e.handleJobCancel(ms, d, &r)

	case events.TimerStart:
		e.handleTimerStart(ms, d, &r)

	case events.WorkerWake:
		e.handleWorkerWake(ms, d, &r)
	case events.WorkerPolled:
		e.handleWorkerPolled(ms, d, &r)
	case events.WorkerTook:
		e.handleWorkerTook(ms, d, &r)

	case events.DecisionResolved:
		e.handleDecisionResolved(ms, d, &r)
	}

	return r
}

func (e *Engine) warn(msg string, args ...any) {
	e.Logger.Warn(msg, args...)
}

// findAgentOwner resolves the owning Job or Crew for an agent, or the zero
// OwnerID if the agent is unknown (a stale event from an agent_id that no
// longer matches any live record — dropped per the agent-uniqueness
// invariant).
func findAgentOwner(ms *state.MaterializedState, agentID ids.AgentID) (ids.OwnerID, bool) {
	a, ok := ms.Agent(agentID)
	if !ok {
		return ids.OwnerID{}, false
	}
	return a.Owner, true
}

func ownerRunbookHash(ms *state.MaterializedState, owner ids.OwnerID) (string, bool) {
	switch owner.Kind {
	case ids.OwnerKindJob:
		j, ok := ms.Job(owner.Job)
		return j.RunbookHash, ok
	case ids.OwnerKindCrew:
		c, ok := ms.Crew_(owner.Crew)
		return c.RunbookHash, ok
	default:
		return "", false
	}
}

func failOwner(ms *state.MaterializedState, owner ids.OwnerID, step, reason string, r *Result) {
	switch owner.Kind {
	case ids.OwnerKindJob:
		r.emit(events.StepFailed{JobID: owner.Job, Step: step, Error: reason})
		r.emit(events.JobFailing{JobID: owner.Job, Error: reason})
	case ids.OwnerKindCrew:
		r.emit(events.CrewUpdated{CrewID: owner.Crew, Status: string(state.CrewFailed), Reason: reason})
	}
}

