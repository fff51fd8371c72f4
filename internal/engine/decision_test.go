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

// setupAgentStep puts a job on its "repair" step (an agent step, per
// newTestRunbook's "fixer" on_idle config: OnIdleDone with Attempts:1) with
// a live agent spawned for it, returning the job and agent ids.
func setupAgentStep(ms *state.MaterializedState) (ids.JobID, ids.AgentID) {
	job := ids.NewJobID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "repair"},
		events.StepStarted{JobID: job, Step: "repair", AgentID: &agent, AgentName: "fixer"},
	)
	return job, agent
}

func TestFireOnIdleDoneActionCompletesStepAfterSingleAttempt(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, agent := setupAgentStep(ms)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentIdle{AgentID: agent}})

	require.Len(t, res.Events, 3)
	require.IsType(t, events.JobAttemptRecorded{}, res.Events[0])
	require.IsType(t, events.StepCompleted{}, res.Events[1])
	advanced, ok := res.Events[2].(events.JobAdvanced)
	require.True(t, ok)
	require.Equal(t, "done", advanced.Step)
	_ = job
}

func TestFireOnIdleNudgeActionWaitsOutCooldownBeforeTerminalAction(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "nudger", CommandName: "nudge", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
	)

	// nudger has Attempts: 2, so the first idle signal should only record
	// the attempt and arm a cooldown timer, not nudge yet.
	first := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentIdle{AgentID: agent}})
	require.Len(t, first.Events, 1)
	recorded, ok := first.Events[0].(events.CrewAttemptRecorded)
	require.True(t, ok)
	require.Equal(t, 1, recorded.Count)
	require.Len(t, first.Effects, 1)
	require.IsType(t, effects.SetTimer{}, first.Effects[0])

	applyAllAt(ms, recorded)

	second := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentIdle{AgentID: agent}})
	require.Len(t, second.Events, 1)
	resetRecord, ok := second.Events[0].(events.CrewAttemptRecorded)
	require.True(t, ok)
	require.Equal(t, 0, resetRecord.Count)
	require.Len(t, second.Effects, 2)
	sendEffect, ok := second.Effects[0].(effects.SendToAgent)
	require.True(t, ok)
	require.Equal(t, "keep going", sendEffect.Input)
	require.IsType(t, effects.SetTimer{}, second.Effects[1])
}

func TestFireOnIdleEscalateActionEmitsFullDecisionSequence(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "triager", CommandName: "triage", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentIdle{AgentID: agent}})

	require.Len(t, res.Events, 3)
	require.IsType(t, events.CrewAttemptRecorded{}, res.Events[0])
	decisionCreated, ok := res.Events[1].(events.DecisionCreated)
	require.True(t, ok)
	require.Equal(t, string(state.DecisionSourceIdle), decisionCreated.Source)
	require.NotNil(t, decisionCreated.AgentID)
	require.Equal(t, agent, *decisionCreated.AgentID)

	crewUpdated, ok := res.Events[2].(events.CrewUpdated)
	require.True(t, ok)
	require.Equal(t, string(state.CrewWaiting), crewUpdated.Status)

	require.Len(t, res.Effects, 2)
	require.IsType(t, effects.Notify{}, res.Effects[0])
	cancelTimer, ok := res.Effects[1].(effects.CancelTimer)
	require.True(t, ok)
	require.Equal(t, ids.ExitDeferredTimer(ids.NewCrewOwner(crew)), cancelTimer.ID)
}

func TestDispatchIdleLikeSignalIsANoOpWhenOwnerAlreadyWaiting(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "triager", CommandName: "triage", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
		events.CrewUpdated{CrewID: crew, Status: string(state.CrewWaiting)},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentIdle{AgentID: agent}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleAgentPromptQuestionTypeEscalatesWithQuestionsPayload(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "triager", CommandName: "triage", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentPrompt{
		AgentID: agent, Type: "question", Questions: []byte(`{"q":"proceed?"}`), LastMessage: "need input",
	}})

	require.Len(t, res.Events, 2)
	decisionCreated, ok := res.Events[0].(events.DecisionCreated)
	require.True(t, ok)
	require.Equal(t, string(state.DecisionSourceQuestion), decisionCreated.Source)
	require.Equal(t, "need input", decisionCreated.Context)
	require.NotEmpty(t, decisionCreated.Questions)
}

func TestHandleAgentFailedRateLimitedResumesWithCooldownInsteadOfEscalating(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "triager", CommandName: "triage", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentFailed{
		AgentID: agent, Error: "429 rate limit exceeded",
	}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.CrewAttemptRecorded{}, res.Events[0])
	resume, ok := res.Events[1].(events.CrewResume)
	require.True(t, ok)
	require.True(t, resume.Kill)

	require.Len(t, res.Effects, 1)
	require.IsType(t, effects.SetTimer{}, res.Effects[0])
}

func TestHandleAgentFailedOtherErrorsEscalate(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "triager", CommandName: "triage", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentFailed{
		AgentID: agent, Error: "panic: nil pointer",
	}})

	require.Len(t, res.Events, 2)
	decisionCreated, ok := res.Events[0].(events.DecisionCreated)
	require.True(t, ok)
	require.Equal(t, string(state.DecisionSourceError), decisionCreated.Source)
}

func TestHandleAgentExitedCleanExitCompletesStep(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	_, agent := setupAgentStep(ms)

	zero := 0
	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentExited{AgentID: agent, ExitCode: &zero}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.StepCompleted{}, res.Events[0])
}

func TestHandleAgentExitedNonZeroArmsExitDeferredTimer(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, agent := setupAgentStep(ms)

	nonZero := 1
	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentExited{AgentID: agent, ExitCode: &nonZero}})

	require.Empty(t, res.Events)
	require.Len(t, res.Effects, 1)
	timer, ok := res.Effects[0].(effects.SetTimer)
	require.True(t, ok)
	require.Equal(t, ids.ExitDeferredTimer(ids.NewJobOwner(job)), timer.ID)
	require.Equal(t, exitDeferredGrace, timer.Duration)
}

func TestHandleAgentGoneEscalatesAsDeadSource(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	_, agent := setupAgentStep(ms)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.AgentGone{AgentID: agent}})

	require.Len(t, res.Events, 2)
	decisionCreated, ok := res.Events[0].(events.DecisionCreated)
	require.True(t, ok)
	require.Equal(t, string(state.DecisionSourceDead), decisionCreated.Source)
	require.IsType(t, events.StepWaiting{}, res.Events[1])
}

func TestResumeCommonNudgesLiveAgentInPlaceWithoutKill(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, agent := setupAgentStep(ms)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.JobResume{JobID: job, Message: "keep going", Kill: false}})

	require.Empty(t, res.Events)
	require.Len(t, res.Effects, 2)
	send, ok := res.Effects[0].(effects.SendToAgent)
	require.True(t, ok)
	require.Equal(t, agent, send.AgentID)
	require.Equal(t, "keep going", send.Input)
	require.IsType(t, effects.SetTimer{}, res.Effects[1])
}

func TestResumeCommonKillsAndRespawnsWhenKillRequested(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job, agent := setupAgentStep(ms)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.JobResume{JobID: job, Message: "", Kill: true}})

	require.Len(t, res.Effects, 3)
	kill, ok := res.Effects[0].(effects.KillAgent)
	require.True(t, ok)
	require.Equal(t, agent, kill.AgentID)
	spawn, ok := res.Effects[1].(effects.SpawnAgent)
	require.True(t, ok)
	require.True(t, spawn.Resume)
	require.Equal(t, "fixer", spawn.AgentName)
	require.IsType(t, effects.SetTimer{}, res.Effects[2])
}

func TestResumeCommonSupersedesAnyUnresolvedDecision(t *testing.T) {
	eng, fake := newTestEngine()
	ms := state.New()
	job, agent := setupAgentStep(ms)
	decisionID := ids.NewDecisionID()
	applyAllAt(ms, events.DecisionCreated{
		DecisionID: decisionID,
		Owner:      ids.NewJobOwner(job),
		AgentID:    &agent,
		Source:     string(state.DecisionSourceDead),
		Context:    "agent process exited unexpectedly",
		Options:    mustMarshalOptions(decisionOptionsFor(state.DecisionSourceDead)),
	})

	fake.Advance(time.Minute)
	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.JobResume{JobID: job, Kill: true}})

	var resolved *events.DecisionResolved
	for _, ev := range res.Events {
		if d, ok := ev.(events.DecisionResolved); ok {
			resolved = &d
		}
	}
	require.NotNil(t, resolved)
	require.Equal(t, decisionID, resolved.DecisionID)
	require.Equal(t, "superseded by resume", resolved.Message)
}

func TestHandleDecisionResolvedSkipAdvancesPastFailingStep(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	decisionID := ids.NewDecisionID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "test"},
		events.StepStarted{JobID: job, Step: "test"},
		events.DecisionCreated{
			DecisionID: decisionID,
			Owner:      ids.NewJobOwner(job),
			Source:     string(state.DecisionSourceError),
			Context:    "boom",
			Options:    mustMarshalOptions(decisionOptionsFor(state.DecisionSourceError)),
		},
	)

	// "test" has no OnDone, so Skip should advance it straight to "done".
	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.DecisionResolved{
		DecisionID: decisionID, Choices: []int{1},
	}})

	require.Len(t, res.Events, 1)
	advanced, ok := res.Events[0].(events.JobAdvanced)
	require.True(t, ok)
	require.Equal(t, "done", advanced.Step)
}

func TestHandleDecisionResolvedCancelEmitsJobCancel(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	decisionID := ids.NewDecisionID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.DecisionCreated{
			DecisionID: decisionID,
			Owner:      ids.NewJobOwner(job),
			Source:     string(state.DecisionSourceGate),
			Context:    "needs review",
			Options:    mustMarshalOptions(decisionOptionsFor(state.DecisionSourceGate)),
		},
	)

	// Gate's options are Retry/Skip/Cancel; index 2 is Cancel.
	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.DecisionResolved{
		DecisionID: decisionID, Choices: []int{2},
	}})

	require.Len(t, res.Events, 1)
	cancel, ok := res.Events[0].(events.JobCancel)
	require.True(t, ok)
	require.Equal(t, job, cancel.JobID)
}

func TestHandleDecisionResolvedDefaultForwardsResponseToLiveAgent(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	crew := ids.NewCrewID()
	agent := ids.NewAgentID()
	decisionID := ids.NewDecisionID()
	applyAllAt(ms,
		events.CrewCreated{CrewID: crew, AgentName: "triager", CommandName: "triage", Project: "proj", RunbookHash: testRunbookHash},
		events.CrewStarted{CrewID: crew, AgentID: agent},
		events.DecisionCreated{
			DecisionID: decisionID,
			Owner:      ids.NewCrewOwner(crew),
			AgentID:    &agent,
			Source:     string(state.DecisionSourceQuestion),
			Context:    "need input",
			Options:    mustMarshalOptions(decisionOptionsFor(state.DecisionSourceQuestion)),
		},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.DecisionResolved{
		DecisionID: decisionID, Choices: []int{0}, Message: "yes, proceed",
	}})

	require.Empty(t, res.Events)
	require.Len(t, res.Effects, 1)
	respond, ok := res.Effects[0].(effects.RespondToAgent)
	require.True(t, ok)
	require.Equal(t, agent, respond.AgentID)
	require.Equal(t, "yes, proceed", respond.Response)
}

func TestHandleDecisionResolvedForUnknownDecisionIsANoOp(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.DecisionResolved{DecisionID: ids.NewDecisionID(), Choices: []int{0}}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}
