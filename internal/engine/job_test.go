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
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
	"github.com/stretchr/testify/require"
)

func TestHandleCommandRunDispatchesDirectoryLessJobToStepStarted(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.CommandRun{
		Owner: owner, Name: "deploy", Project: "proj", InvokeDir: "/work",
	}})

	require.Len(t, res.Events, 2)
	created, ok := res.Events[0].(events.JobCreated)
	require.True(t, ok)
	require.Equal(t, "deploy", created.Kind_)
	require.Nil(t, created.WorkspaceID)

	started, ok := res.Events[1].(events.StepStarted)
	require.True(t, ok)
	require.Equal(t, "build", started.Step)
}

func TestHandleCommandRunUnknownCommandFailsOwner(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.CommandRun{
		Owner: owner, Name: "does-not-exist", Project: "proj",
	}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.StepFailed{}, res.Events[0])
	require.IsType(t, events.JobFailing{}, res.Events[1])
}

func TestHandleCommandRunUnknownProjectFailsOwner(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.CommandRun{
		Owner: owner, Name: "deploy", Project: "unknown-project",
	}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.JobFailing{}, res.Events[1])
}

func TestHandleCommandRunIsANoOpForAnExistingOwner(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms, events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash})

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.CommandRun{
		Owner: ids.NewJobOwner(job), Name: "deploy", Project: "proj",
	}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleCommandRunAgentDispatchesCrewCreated(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewCrewOwner(ids.NewCrewID())

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.CommandRun{
		Owner: owner, Name: "triage", Project: "proj", InvokeDir: "/work",
	}})

	require.Len(t, res.Events, 1)
	created, ok := res.Events[0].(events.CrewCreated)
	require.True(t, ok)
	require.Equal(t, "triager", created.AgentName)
	require.Equal(t, "triage", created.CommandName)
}

func TestHandleCommandRunShellDispatchesSingleStepJob(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.CommandRun{
		Owner: owner, Name: "ping", Project: "proj", InvokeDir: "/work",
	}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.JobCreated{}, res.Events[0])
	require.IsType(t, events.StepStarted{}, res.Events[1])
	require.Len(t, res.Effects, 1)
	shell, ok := res.Effects[0].(effects.Shell)
	require.True(t, ok)
	require.Equal(t, "echo hi", shell.Command)
}

func TestDispatchJobCommandWithWorkspaceEmitsCreateWorkspaceAndDefersStep(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	owner := ids.NewJobOwner(ids.NewJobID())
	rb := newTestRunbook()

	cmd := events.CommandRun{Owner: owner, Project: "proj", InvokeDir: "/repo/work"}
	directive := runbook.RunDirective{Kind: runbook.RunJob, JobKind: "deploy-ws"}

	var r Result
	eng.dispatchJobCommand(ms, cmd, rb, directive, "deploy-ws", &r)

	require.Len(t, r.Events, 2)
	require.IsType(t, events.JobCreated{}, r.Events[0])
	wsCreated, ok := r.Events[1].(events.WorkspaceCreated)
	require.True(t, ok)
	require.Equal(t, "worktree", wsCreated.Type)

	require.Len(t, r.Effects, 1)
	require.IsType(t, effects.CreateWorkspace{}, r.Effects[0])
}

func TestHandleWorkspaceReadyStartsTheJobsFirstStep(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	ws := ids.NewWorkspaceID()

	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy-ws", Project: "proj", RunbookHash: testRunbookHash, WorkspaceID: &ws},
		events.WorkspaceCreated{WorkspaceID: ws, Path: "/repo/work", Owner: ids.NewJobOwner(job), Type: "worktree"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.WorkspaceReady{WorkspaceID: ws}})

	require.Len(t, res.Events, 1)
	started, ok := res.Events[0].(events.StepStarted)
	require.True(t, ok)
	require.Equal(t, "build", started.Step)
}

func TestHandleWorkspaceFailedFailsTheOwningJob(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	ws := ids.NewWorkspaceID()

	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy-ws", Project: "proj", RunbookHash: testRunbookHash, WorkspaceID: &ws},
		events.WorkspaceCreated{WorkspaceID: ws, Path: "/repo/work", Owner: ids.NewJobOwner(job), Type: "worktree"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.WorkspaceFailed{WorkspaceID: ws, Reason: "clone failed"}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.StepFailed{}, res.Events[0])
	require.IsType(t, events.JobFailing{}, res.Events[1])
}

func TestHandleStepStartedAgentStepSpawnsAgentAndArmsLiveness(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "repair"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.StepStarted{JobID: job, Step: "repair"}})

	require.Len(t, res.Effects, 2)
	spawn, ok := res.Effects[0].(effects.SpawnAgent)
	require.True(t, ok)
	require.Equal(t, "fixer", spawn.AgentName)
	require.IsType(t, effects.SetTimer{}, res.Effects[1])
}

func TestHandleStepStartedStepLoopBoundFailsTheJob(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms, events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash})
	for i := 0; i < runbook.MaxStepVisits+1; i++ {
		applyAllAt(ms, events.JobAdvanced{JobID: job, Step: "build"})
	}

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.StepStarted{JobID: job, Step: "build"}})

	require.Len(t, res.Events, 2)
	failed, ok := res.Events[0].(events.StepFailed)
	require.True(t, ok)
	require.Contains(t, failed.Error, "step loop")
}

func TestHandleShellExitedSuccessAdvancesToOnDoneStep(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.StepStarted{JobID: job, Step: "build"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.ShellExited{JobID: job, Step: "build", ExitCode: 0}})

	require.Len(t, res.Events, 3)
	require.IsType(t, events.StepCompleted{}, res.Events[0])
	advanced, ok := res.Events[1].(events.JobAdvanced)
	require.True(t, ok)
	require.Equal(t, "test", advanced.Step)
	require.IsType(t, events.StepStarted{}, res.Events[2])
}

func TestHandleShellExitedSuccessOnFinalStepAdvancesToDoneWithoutRestarting(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "test"},
		events.StepStarted{JobID: job, Step: "test"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.ShellExited{JobID: job, Step: "test", ExitCode: 0}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.StepCompleted{}, res.Events[0])
	advanced, ok := res.Events[1].(events.JobAdvanced)
	require.True(t, ok)
	require.Equal(t, "done", advanced.Step)
}

func TestHandleShellExitedFailureWithOnFailTransitions(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "test"},
		events.StepStarted{JobID: job, Step: "test"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.ShellExited{JobID: job, Step: "test", ExitCode: 1}})

	require.Len(t, res.Events, 3)
	failed, ok := res.Events[0].(events.StepFailed)
	require.True(t, ok)
	require.Contains(t, failed.Error, "exit code 1")
	advanced, ok := res.Events[1].(events.JobAdvanced)
	require.True(t, ok)
	require.Equal(t, "repair", advanced.Step)
	started, ok := res.Events[2].(events.StepStarted)
	require.True(t, ok)
	require.Equal(t, "repair", started.Step)
}

func TestHandleShellExitedFailureWithoutOnFailFailsTheJob(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.StepStarted{JobID: job, Step: "build"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.ShellExited{JobID: job, Step: "build", ExitCode: 1}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.StepFailed{}, res.Events[0])
	require.IsType(t, events.JobFailing{}, res.Events[1])
}

func TestHandleShellExitedForAStaleStepIsDropped(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "test"},
		events.StepStarted{JobID: job, Step: "test"},
	)

	// The job has already moved off "build"; a late exit from a prior
	// attempt at it must not re-trigger a transition.
	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.ShellExited{JobID: job, Step: "build", ExitCode: 0}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}

func TestHandleJobCancelKillsLiveAgentsAndFailsTheJob(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()
	job := ids.NewJobID()
	agent := ids.NewAgentID()
	applyAllAt(ms,
		events.JobCreated{JobID: job, Kind_: "deploy", Project: "proj", RunbookHash: testRunbookHash},
		events.JobAdvanced{JobID: job, Step: "repair"},
		events.StepStarted{JobID: job, Step: "repair", AgentID: &agent, AgentName: "fixer"},
	)

	res := eng.Handle(ms, events.Event{Seq: ms.Seq + 1, Data: events.JobCancel{JobID: job}})

	require.Len(t, res.Events, 2)
	require.IsType(t, events.JobCancelling{}, res.Events[0])
	require.IsType(t, events.JobFailing{}, res.Events[1])
	require.Len(t, res.Effects, 1)
	kill, ok := res.Effects[0].(effects.KillAgent)
	require.True(t, ok)
	require.Equal(t, agent, kill.AgentID)
}

func TestHandleJobCancelForUnknownJobIsANoOp(t *testing.T) {
	eng, _ := newTestEngine()
	ms := state.New()

	res := eng.Handle(ms, events.Event{Seq: 1, Data: events.JobCancel{JobID: ids.NewJobID()}})

	require.Empty(t, res.Events)
	require.Empty(t, res.Effects)
}
