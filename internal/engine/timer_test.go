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
	"time"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/state"
	"github.com/stretchr/testify/require"
)

func TestHandleTimerStartMalformedIDIsIgnored(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.TimerStart{ID: "no-colon-here"}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleTimerStartUnknownTagIsIgnored(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.TimerStart{ID: "bogus:rest"}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleLivenessTimerReArmsWhenAgentStillWorking(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, _ := setupAgentStep(ms)
	owner := ids.NewJobOwner(job)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.LivenessTimer(owner)}})

	require.Empty(t, res.Events)
	require.Len(t, res.Effects, 1)
	timer, ok := res.Effects[0].(effects.SetTimer)
	require.True(t, ok)
	require.Equal(t, ids.LivenessTimer(owner), timer.ID)
	require.Equal(t, livenessInterval, timer.Duration)
}

func TestHandleLivenessTimerDispatchesIdleWhenAgentIdleAndOwnerNotWaiting(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, agent := setupAgentStep(ms)
	owner := ids.NewJobOwner(job)
	applyAllAt(ms, events.AgentIdle{AgentID: agent})

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.LivenessTimer(owner)}})

	// "repair" is an agent step on "fixer" (OnIdleDone, Attempts:1), so the
	// liveness recheck should resolve straight through to step completion.
	require.Len(t, res.Events, 3)
	require.IsType(t, events.JobAttemptRecorded{}, res.Events[0])
	require.IsType(t, events.StepCompleted{}, res.Events[1])
}

func TestHandleLivenessTimerForUnknownOwnerIsANoOp(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.TimerStart{ID: ids.LivenessTimer(owner)}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleExitDeferredTimerEmitsAgentGoneWhenStillUnreachable(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, _ := setupAgentStep(ms)
	owner := ids.NewJobOwner(job)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.ExitDeferredTimer(owner)}})

	require.Len(t, res.Events, 1)
	gone, ok := res.Events[0].(events.AgentGone)
	require.True(t, ok)
	_ = gone
}

func TestHandleExitDeferredTimerIsANoOpWhenOwnerHasNoLiveAgent(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms, events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash})
	owner := ids.NewJobOwner(job)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.ExitDeferredTimer(owner)}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleCronTimerFiresWhenUnderConcurrencyAndAlwaysReschedules(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	ms.Crons[ids.NewScopedName("proj", "nightly")] = &state.Cron{
		Name: "nightly", Project: "proj", ProjectPath: "/repo", Interval: time.Hour,
		Target:      state.CronRunTarget{Kind: state.CronTargetShell, Name: "echo nightly"},
		Concurrency: 1, RunbookHash: testRunbookHash, Status: state.CronRunningSt,
	}

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.CronTimer("nightly", "proj")}})

	require.Len(t, res.Events, 3)
	fired, ok := res.Events[0].(events.CronFired)
	require.True(t, ok)
	require.Equal(t, ids.NewScopedName("proj", "nightly"), fired.Scoped)
	require.IsType(t, events.JobCreated{}, res.Events[1])
	require.IsType(t, events.StepStarted{}, res.Events[2])

	require.Len(t, res.Effects, 2)
	require.IsType(t, effects.Shell{}, res.Effects[0])
	reschedule, ok := res.Effects[1].(effects.SetTimer)
	require.True(t, ok)
	require.Equal(t, ids.CronTimer("nightly", "proj"), reschedule.ID)
	require.Equal(t, time.Hour, reschedule.Duration)
}

func TestHandleCronTimerSkipsFireAtConcurrencyCapButStillReschedules(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	scoped := ids.NewScopedName("proj", "nightly")
	ms.Crons[scoped] = &state.Cron{
		Name: "nightly", Project: "proj", ProjectPath: "/repo", Interval: time.Hour,
		Target:      state.CronRunTarget{Kind: state.CronTargetShell, Name: "echo nightly"},
		Concurrency: 1, RunbookHash: testRunbookHash, Status: state.CronRunningSt,
	}
	// One job already running under this cron's name occupies its one slot.
	applyAllAt(ms, events.JobCreated{JobID: ids.NewJobID(), Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash, CronName: string(scoped)})

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.TimerStart{ID: ids.CronTimer("nightly", "proj")}})

	require.Len(t, res.Events, 1)
	skipped, ok := res.Events[0].(events.CronSkipped)
	require.True(t, ok)
	require.Equal(t, scoped, skipped.Scoped)
	require.Equal(t, "concurrency_limit", skipped.Reason)

	require.Len(t, res.Effects, 1)
	reschedule, ok := res.Effects[0].(effects.SetTimer)
	require.True(t, ok)
	require.Equal(t, ids.CronTimer("nightly", "proj"), reschedule.ID)
}

func TestHandleCronTimerForStoppedCronIsANoOp(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	ms.Crons["proj/nightly"] = &state.Cron{
		Name: "nightly", Project: "proj", Interval: time.Hour,
		Target: state.CronRunTarget{Kind: state.CronTargetShell, Name: "echo nightly"},
		Status: state.CronStoppedSt,
	}

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.TimerStart{ID: ids.CronTimer("nightly", "proj")}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleCronTimerForUnknownCronIsANoOp(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.TimerStart{ID: ids.CronTimer("ghost", "proj")}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}
