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
	"testing"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/state"
	"github.com/stretchr/testify/require"
)

// drive applies seed to ms, then repeatedly feeds whatever Handle returns
// back through ApplyEvent+Handle breadth-first, mirroring how the real
// daemon loop folds its own follow-up events before dispatching new
// effects. It returns every event applied (in order) and every effect
// raised across the whole cascade.
func drive(t *testing.T, eng *Engine, ms *state.MaterializedState, seed events.Data) ([]events.Data, []effects.Effect) {
	t.Helper()
	var allEvents []events.Data
	var allEffects []effects.Effect

	queue := []events.Data{seed}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		ev := events.Event{Seq: ms.Seq + 1, At: testAt, Data: d}
		state.ApplyEvent(ms, ev)
		allEvents = append(allEvents, d)

		res := eng.Handle(ms, ev)
		allEffects = append(allEffects, res.Effects...)
		queue = append(queue, res.Events...)
	}
	return allEvents, allEffects
}

func findEvent[T events.Data](all []events.Data) (T, bool) {
	for _, d := range all {
		if v, ok := d.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Scenario: a bare shell command runs its single step to completion with
// no failures and no agent involvement.
func TestScenarioShellOnlyJobCompletes(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	allEvents, allEffects := drive(t, eng, ms, events.CommandRun{
		Owner: owner, Name: "ping", Project: "proj", InvokeDir: "/work",
	})

	_, sawShell := findEvent[events.JobCreated](allEvents)
	require.True(t, sawShell)
	_, sawStep := findEvent[events.StepStarted](allEvents)
	require.True(t, sawStep)

	require.Len(t, allEffects, 1)
	require.IsType(t, effects.Shell{}, allEffects[0])

	j, ok := ms.Job(owner.Job)
	require.True(t, ok)
	require.Equal(t, "run", j.Step)
	require.Equal(t, state.StepRunning, j.StepStatus)

	// Now the shell exits successfully; drive the rest of the cascade.
	drive(t, eng, ms, events.ShellExited{JobID: owner.Job, Step: "run", ExitCode: 0})
	j, ok = ms.Job(owner.Job)
	require.True(t, ok)
	require.Equal(t, "done", j.Step)
}

// Scenario: a failing shell step follows its on_fail transition into the
// repair step, with attempt bookkeeping persisted along the way.
func TestScenarioFailingShellFollowsOnFailWithAttemptBookkeeping(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	drive(t, eng, ms, events.CommandRun{Owner: owner, Name: "deploy", Project: "proj", InvokeDir: "/work"})
	j, ok := ms.Job(owner.Job)
	require.True(t, ok)
	require.Equal(t, "build", j.Step)

	// Build succeeds, advancing into "test".
	drive(t, eng, ms, events.ShellExited{JobID: owner.Job, Step: "build", ExitCode: 0})
	j, _ = ms.Job(owner.Job)
	require.Equal(t, "test", j.Step)

	// Test fails; on_fail routes to "repair", an agent step, which spawns
	// an agent and arms a liveness timer.
	_, allEffects := drive(t, eng, ms, events.ShellExited{JobID: owner.Job, Step: "test", ExitCode: 1})
	j, _ = ms.Job(owner.Job)
	require.Equal(t, "repair", j.Step)
	require.Equal(t, state.StepRunning, j.StepStatus)

	var spawned *effects.SpawnAgent
	for _, eff := range allEffects {
		if s, ok := eff.(effects.SpawnAgent); ok {
			spawned = &s
		}
	}
	require.NotNil(t, spawned)
	require.Equal(t, "fixer", spawned.AgentName)

	// The executor spawns "fixer" and reports back with the live agent ID,
	// which re-applies StepStarted carrying the binding (handleStepStarted
	// itself only raises the SpawnAgent effect; it never knows the real ID).
	agentID := ids.NewAgentID()
	applyAllAt(ms, events.StepStarted{JobID: owner.Job, Step: "repair", AgentID: &agentID, AgentName: spawned.AgentName})

	// The repair agent goes idle; "fixer" has on_idle Done with Attempts:1,
	// so it should complete the step and the job on the very next signal.
	finalEvents, _ := drive(t, eng, ms, events.AgentIdle{AgentID: agentID})
	recorded, ok := findEvent[events.JobAttemptRecorded](finalEvents)
	require.True(t, ok)
	require.Equal(t, "idle:0", recorded.Key)
	require.Equal(t, 1, recorded.Count)

	j, _ = ms.Job(owner.Job)
	require.Equal(t, "done", j.Step)
}

// Scenario: a queue item dispatched through a worker survives a simulated
// crash-and-replay — re-applying the same WAL segment into a fresh
// MaterializedState reproduces identical terminal state.
func TestScenarioQueueItemSurvivesCrash(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	scoped := ids.NewScopedName("proj", "ingest")
	ms.Workers[scoped] = newTestWorker(scoped, 1)

	allEvents, _ := drive(t, eng, ms, events.WorkerTook{
		Scoped: scoped, ItemID: "item-1", Item: []byte(`{"id":"item-1"}`), ExitCode: 0,
	})

	dispatched, ok := findEvent[events.WorkerDispatched](allEvents)
	require.True(t, ok)

	replayed := state.New()
	replayed.Workers[scoped] = newTestWorker(scoped, 1)
	for i, d := range allEvents {
		state.ApplyEvent(replayed, events.Event{Seq: uint64(i + 1), At: testAt, Data: d})
	}

	j, ok := replayed.Job(dispatched.Owner.Job)
	require.True(t, ok)
	require.Equal(t, "handle", j.Step)
	require.Equal(t, state.StepRunning, j.StepStatus)

	originalJob, ok := ms.Job(dispatched.Owner.Job)
	require.True(t, ok)
	require.Equal(t, originalJob.Step, j.Step)
	require.Equal(t, originalJob.StepStatus, j.StepStatus)
}

// Scenario: a cron at its concurrency cap skips firing but still reschedules
// on cadence, so the next tick is never silently dropped.
func TestScenarioCronAtConcurrencyCapSkipsButReschedules(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	scoped := ids.NewScopedName("proj", "nightly")
	ms.Crons[scoped] = &state.Cron{
		Name: "nightly", Project: "proj", ProjectPath: "/repo",
		Target: state.CronRunTarget{Kind: state.CronTargetShell, Name: "echo nightly"},
		Interval:    livenessInterval,
		Concurrency: 1, RunbookHash: testRunbookHash, Status: state.CronRunningSt,
	}
	state.ApplyEvent(ms, events.Event{Seq: ms.Seq + 1, At: testAt, Data: events.JobCreated{
		JobID: ids.NewJobID(), Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash, CronName: string(scoped),
	}})

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.CronTimer("nightly", "proj")}})

	require.Empty(t, res.Events)
	require.Len(t, res.Effects, 1)
	reschedule, ok := res.Effects[0].(effects.SetTimer)
	require.True(t, ok)
	require.Equal(t, ids.CronTimer("nightly", "proj"), reschedule.ID)
}

// Scenario: an escalating agent produces the full decision sequence —
// DecisionCreated, the crew owner parked in CrewWaiting, a Notify effect,
// and the exit_deferred timer cancelled.
func TestScenarioAgentEscalationFullSequence(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewCrewOwner(ids.NewCrewID())

	allEvents, allEffects := drive(t, eng, ms, events.CommandRun{
		Owner: owner, Name: "triage", Project: "proj", InvokeDir: "/work",
	})

	_, sawCreated := findEvent[events.CrewCreated](allEvents)
	require.True(t, sawCreated)
	var sawSpawnAgent bool
	for _, eff := range allEffects {
		if _, ok := eff.(effects.SpawnAgent); ok {
			sawSpawnAgent = true
		}
	}
	require.True(t, sawSpawnAgent)

	// The executor reports the spawn succeeded, binding a real agent id to
	// the crew the way the adapter would.
	agentID := ids.NewAgentID()
	applyAllAt(ms, events.CrewStarted{CrewID: owner.Crew, AgentID: agentID})

	decisionEvents, decisionEffects := drive(t, eng, ms, events.AgentIdle{AgentID: agentID})

	decisionCreated, ok := findEvent[events.DecisionCreated](decisionEvents)
	require.True(t, ok)
	require.Equal(t, string(state.DecisionSourceIdle), decisionCreated.Source)

	_, sawCrewUpdated := findEvent[events.CrewUpdated](decisionEvents)
	require.True(t, sawCrewUpdated)

	var sawNotify, sawCancel bool
	for _, eff := range decisionEffects {
		switch v := eff.(type) {
		case effects.Notify:
			sawNotify = true
		case effects.CancelTimer:
			sawCancel = true
			require.Equal(t, ids.ExitDeferredTimer(owner), v.ID)
		}
	}
	require.True(t, sawNotify)
	require.True(t, sawCancel)

	c, ok := ms.Crew_(owner.Crew)
	require.True(t, ok)
	require.Equal(t, state.CrewWaiting, c.Status)

	dec, ok := ms.Decisions[decisionCreated.DecisionID]
	require.True(t, ok)
	require.False(t, dec.Resolved())
}

// Scenario: an event of a kind this build doesn't recognize round-trips
// through the wire codec as Custom without losing its raw payload, and the
// engine treats it as a no-op rather than panicking.
func TestScenarioParseRobustnessForUnknownEventKind(t *testing.T) {
	raw := []byte(`{"seq":1,"kind":"some_future_kind","at":"2026-01-01T00:00:00Z","data":{"foo":"bar"}}`)

	var ev events.Event
	err := ev.UnmarshalJSON(raw)
	require.NoError(t, err)

	custom, ok := ev.Data.(events.Custom)
	require.True(t, ok)
	require.Equal(t, "some_future_kind", string(custom.OriginalKind))
	require.JSONEq(t, `{"foo":"bar"}`, string(custom.Raw))

	eng, _ := newTestEngine()
	ms := state.New()
	require.NotPanics(t, func() {
		res := eng.Handle(ms, ev)
		require.Empty(t, res.Events)
		require.Empty(t, res.Effects)
	})

	reencoded, err := ev.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(reencoded), "some_future_kind")
}
