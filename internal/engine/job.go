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
	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
)

// handleCommandRun resolves the named command against the owner's
// project runbook and dispatches to the matching entity kind. Re-running
// the same owner (crash-replay) is a no-op.
func (e *Engine) handleCommandRun(ms *state.MaterializedState, d events.CommandRun, r *Result) {
	if ownerAlreadyExists(ms, d.Owner) {
		return
	}

	rb, err := e.Runbooks.GetByProject(d.Project)
	if err != nil {
		e.warn("command run: no runbook for project", "project", d.Project, "error", err)
		failOwner(ms, d.Owner, "", "no runbook loaded for project "+d.Project, r)
		return
	}

	cmd, ok := rb.Commands[d.Name]
	if !ok {
		e.warn("command run: unknown command", "name", d.Name, "project", d.Project)
		failOwner(ms, d.Owner, "", "unknown command "+d.Name, r)
		return
	}

	e.dispatchDirective(ms, d, rb, cmd.Run, cmd.Name, r)
}

// dispatchDirective materializes an owner per a resolved run directive: a
// named command's directive, or (from a cron fire) the cron's run target
// directly, bypassing the named-command lookup.
func (e *Engine) dispatchDirective(ms *state.MaterializedState, d events.CommandRun, rb runbook.Runbook, directive runbook.RunDirective, displayName string, r *Result) {
	switch directive.Kind {
	case runbook.RunJob:
		e.dispatchJobCommand(ms, d, rb, directive, displayName, r)
	case runbook.RunAgent:
		e.dispatchCrewCommand(ms, d, rb, directive, displayName, r)
	case runbook.RunShell:
		e.dispatchShellCommand(ms, d, rb, directive, displayName, r)
	}
}

func ownerAlreadyExists(ms *state.MaterializedState, owner ids.OwnerID) bool {
	switch owner.Kind {
	case ids.OwnerKindJob:
		_, ok := ms.Job(owner.Job)
		return ok
	case ids.OwnerKindCrew:
		_, ok := ms.Crew_(owner.Crew)
		return ok
	default:
		return false
	}
}

func (e *Engine) dispatchJobCommand(ms *state.MaterializedState, d events.CommandRun, rb runbook.Runbook, directive runbook.RunDirective, displayName string, r *Result) {
	jobDef, ok := rb.Jobs[directive.JobKind]
	if !ok {
		failOwner(ms, d.Owner, "", "job kind not found in runbook: "+directive.JobKind, r)
		return
	}

	var wsID *ids.WorkspaceID
	if jobDef.Workspace != nil {
		id := ids.NewWorkspaceID()
		wsID = &id
	}

	r.emit(events.JobCreated{
		JobID:       d.Owner.Job,
		Kind_:       directive.JobKind,
		DisplayName: displayName,
		Project:     d.Project,
		Dir:         d.InvokeDir,
		RunbookHash: rb.Hash,
		Vars:        d.Args,
		WorkspaceID: wsID,
		CronName:    d.CronName,
	})

	if wsID != nil {
		r.effect(effects.CreateWorkspace{
			WorkspaceID: *wsID,
			Path:        d.InvokeDir,
			Owner:       d.Owner,
			Type:        jobDef.Workspace.Type,
			RepoRoot:    jobDef.Workspace.RepoRoot,
			Branch:      jobDef.Workspace.Branch,
			StartPoint:  jobDef.Workspace.StartPoint,
		})
		r.emit(events.WorkspaceCreated{
			WorkspaceID: *wsID,
			Path:        d.InvokeDir,
			Owner:       d.Owner,
			Type:        jobDef.Workspace.Type,
			Branch:      jobDef.Workspace.Branch,
		})
		// Job stays Pending until WorkspaceReady arrives; StepStarted is
		// deferred to handleWorkspaceReady.
		return
	}

	r.emit(events.StepStarted{JobID: d.Owner.Job, Step: jobDef.Start})
}

func (e *Engine) dispatchCrewCommand(ms *state.MaterializedState, d events.CommandRun, rb runbook.Runbook, directive runbook.RunDirective, displayName string, r *Result) {
	agentDef, ok := rb.Agents[directive.AgentName]
	if !ok {
		failOwner(ms, d.Owner, "", "agent not found in runbook: "+directive.AgentName, r)
		return
	}
	r.emit(events.CrewCreated{
		CrewID:      d.Owner.Crew,
		AgentName:   agentDef.Name,
		CommandName: displayName,
		Project:     d.Project,
		Cwd:         d.InvokeDir,
		RunbookHash: rb.Hash,
		Vars:        d.Args,
	})
}

func (e *Engine) dispatchShellCommand(ms *state.MaterializedState, d events.CommandRun, rb runbook.Runbook, directive runbook.RunDirective, displayName string, r *Result) {
	// A bare shell command is modeled as a single-step job so it gets the
	// same step_history/terminal bookkeeping as any other job.
	r.emit(events.JobCreated{
		JobID:       d.Owner.Job,
		Kind_:       displayName,
		DisplayName: displayName,
		Project:     d.Project,
		Dir:         d.InvokeDir,
		RunbookHash: rb.Hash,
		Vars:        d.Args,
		CronName:    d.CronName,
	})
	r.emit(events.StepStarted{JobID: d.Owner.Job, Step: "run"})
	scope := scopeForJob(ms, d.Owner.Job, d.Args, d.InvokeDir)
	r.effect(effects.Shell{
		Owner:   &d.Owner,
		Step:    "run",
		Command: runbook.InterpolateEscaped(directive.ShellCmd, scope),
		Cwd:     d.InvokeDir,
	})
}

// handleCrewCreated spawns the crew's agent directly — a crew has no step
// graph, so creation and step-start collapse into one transition.
func (e *Engine) handleCrewCreated(ms *state.MaterializedState, d events.CrewCreated, r *Result) {
	c, ok := ms.Crew_(d.CrewID)
	if !ok {
		return
	}
	rb, err := e.Runbooks.Get(c.RunbookHash)
	if err != nil {
		failOwner(ms, ids.NewCrewOwner(d.CrewID), "", err.Error(), r)
		return
	}
	agentDef, ok := rb.Agents[c.AgentName]
	if !ok {
		failOwner(ms, ids.NewCrewOwner(d.CrewID), "", "agent not found in runbook: "+c.AgentName, r)
		return
	}

	owner := ids.NewCrewOwner(d.CrewID)
	scope := scopeForJob(ms, "", c.Vars, c.Cwd)
	r.effect(effects.SpawnAgent{
		Owner:         owner,
		AgentName:     agentDef.Name,
		WorkspacePath: c.Cwd,
		Cwd:           c.Cwd,
		Command:       runbook.InterpolateEscaped(agentDef.Command, scope),
		Env:           agentDef.Env,
		Unset:         agentDef.Unset,
		OnIdleAction:  string(agentDef.OnIdle.Action),
		OnIdleMessage: agentDef.OnIdle.Message,
		OnIdleGateCmd: agentDef.OnIdle.GateCmd,
		Prime:         agentDef.Prime,
		StopMode:      agentDef.Stop.Mode,
	})
	r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: livenessInterval})
}

func (e *Engine) handleJobCreated(ms *state.MaterializedState, d events.JobCreated, r *Result) {
	// Directory-less jobs (no workspace) were already advanced to
	// StepStarted by dispatchJobCommand; nothing further to do here. Jobs
	// with a workspace wait for WorkspaceReady.
	_ = ms
	_ = r
}

func (e *Engine) handleWorkspaceReady(ms *state.MaterializedState, d events.WorkspaceReady, r *Result) {
	ws, ok := ms.Workspaces[d.WorkspaceID]
	if !ok {
		return
	}
	j := findJobByWorkspace(ms, d.WorkspaceID)
	if j == nil {
		return
	}
	rb, err := e.Runbooks.Get(j.RunbookHash)
	if err != nil {
		failOwner(ms, ids.NewJobOwner(j.ID), j.Step, err.Error(), r)
		return
	}
	jobDef, ok := rb.Jobs[j.Kind]
	if !ok {
		failOwner(ms, ids.NewJobOwner(j.ID), j.Step, "job kind missing from runbook: "+j.Kind, r)
		return
	}
	_ = ws
	r.emit(events.StepStarted{JobID: j.ID, Step: jobDef.Start})
}

func (e *Engine) handleWorkspaceFailed(ms *state.MaterializedState, d events.WorkspaceFailed, r *Result) {
	j := findJobByWorkspace(ms, d.WorkspaceID)
	if j == nil {
		return
	}
	failOwner(ms, ids.NewJobOwner(j.ID), j.Step, "workspace creation failed: "+d.Reason, r)
}

func findJobByWorkspace(ms *state.MaterializedState, wsID ids.WorkspaceID) *state.Job {
	for id := range ms.Jobs {
		j, _ := ms.Job(id)
		if j.WorkspaceID != nil && *j.WorkspaceID == wsID {
			return &j
		}
	}
	return nil
}

// handleStepStarted resolves the step's run directive and issues the
// corresponding effect.
func (e *Engine) handleStepStarted(ms *state.MaterializedState, d events.StepStarted, r *Result) {
	j, ok := ms.Job(d.JobID)
	if !ok {
		return
	}
	rb, err := e.Runbooks.Get(j.RunbookHash)
	if err != nil {
		failOwner(ms, ids.NewJobOwner(j.ID), d.Step, err.Error(), r)
		return
	}
	jobDef, ok := rb.Jobs[j.Kind]
	if !ok {
		if d.Step == "run" {
			// A bare shell command's single step: dispatchShellCommand
			// already issued its Shell effect.
			return
		}
		failOwner(ms, ids.NewJobOwner(j.ID), d.Step, "job kind missing from runbook: "+j.Kind, r)
		return
	}
	stepDef, ok := jobDef.Steps[d.Step]
	if !ok {
		failOwner(ms, ids.NewJobOwner(j.ID), d.Step, "step not found in runbook: "+d.Step, r)
		return
	}

	if j.StepVisits[d.Step] > runbook.MaxStepVisits {
		failOwner(ms, ids.NewJobOwner(j.ID), d.Step, "step loop: "+d.Step+" exceeded max visits", r)
		return
	}

	owner := ids.NewJobOwner(j.ID)
	scope := scopeForJob(ms, j.ID, j.Vars, j.Dir)

	switch stepDef.Run.Kind {
	case runbook.RunShell:
		r.effect(effects.Shell{
			Owner:   &owner,
			Step:    d.Step,
			Command: runbook.InterpolateEscaped(stepDef.Run.ShellCmd, scope),
			Cwd:     j.Dir,
		})
	case runbook.RunAgent:
		agentDef, ok := rb.Agents[stepDef.Run.AgentName]
		if !ok {
			failOwner(ms, owner, d.Step, "agent not found in runbook: "+stepDef.Run.AgentName, r)
			return
		}
		workspacePath := j.Dir
		if j.WorkspaceID != nil {
			if ws, ok := ms.Workspaces[*j.WorkspaceID]; ok {
				workspacePath = ws.Path
			}
		}
		r.effect(effects.SpawnAgent{
			Owner:         owner,
			AgentName:     agentDef.Name,
			WorkspacePath: workspacePath,
			Cwd:           j.Dir,
			Command:       runbook.InterpolateEscaped(agentDef.Command, scope),
			Env:           agentDef.Env,
			Unset:         agentDef.Unset,
			OnIdleAction:  string(agentDef.OnIdle.Action),
			OnIdleMessage: agentDef.OnIdle.Message,
			OnIdleGateCmd: agentDef.OnIdle.GateCmd,
			Prime:         agentDef.Prime,
			StopMode:      agentDef.Stop.Mode,
		})
		r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: livenessInterval})
	}
}

func scopeForJob(ms *state.MaterializedState, jobID ids.JobID, vars map[string]string, invokeDir string) runbook.Scope {
	scope := runbook.NewScope()
	scope.Var = vars
	scope.Invoke["dir"] = invokeDir
	scope.System["job_id"] = string(jobID)
	return scope
}

// handleShellExited transitions the step per its exit code and advances
// (or terminates) the job accordingly.
func (e *Engine) handleShellExited(ms *state.MaterializedState, d events.ShellExited, r *Result) {
	j, ok := ms.Job(d.JobID)
	if !ok || j.Step != d.Step {
		// Stale: a prior attempt at this step finished after the job moved
		// on. Dropped per the agent/step-uniqueness invariant.
		return
	}
	rb, err := e.Runbooks.Get(j.RunbookHash)
	if err != nil {
		failOwner(ms, ids.NewJobOwner(j.ID), d.Step, err.Error(), r)
		return
	}
	// A bare shell command's job kind is not in rb.Jobs; its "run" step
	// proceeds with a zero StepDef (no on_done, no on_fail).
	jobDef, isJob := rb.Jobs[j.Kind]
	stepDef, ok := jobDef.Steps[d.Step]
	if !ok && (isJob || d.Step != "run") {
		return
	}

	if d.ExitCode == 0 {
		r.emit(events.StepCompleted{JobID: d.JobID, Step: d.Step})
		advanceJob(j.ID, stepDef.OnDone, r)
		return
	}

	errMsg := "exit code " + itoa(d.ExitCode)
	r.emit(events.StepFailed{JobID: d.JobID, Step: d.Step, Error: errMsg})
	if stepDef.OnFail != nil {
		r.emit(events.JobAdvanced{JobID: d.JobID, Step: stepDef.OnFail.Step})
		r.emit(events.StepStarted{JobID: d.JobID, Step: stepDef.OnFail.Step})
		return
	}
	r.emit(events.JobFailing{JobID: d.JobID, Error: errMsg})
}

func advanceJob(jobID ids.JobID, onDone *runbook.Transition, r *Result) {
	next := "done"
	if onDone != nil {
		next = onDone.Step
	}
	r.emit(events.JobAdvanced{JobID: jobID, Step: next})
	if next != "done" {
		r.emit(events.StepStarted{JobID: jobID, Step: next})
	}
}

func (e *Engine) handleJobCancel(ms *state.MaterializedState, d events.JobCancel, r *Result) {
	j, ok := ms.Job(d.JobID)
	if !ok {
		return
	}
	r.emit(events.JobCancelling{JobID: d.JobID})
	for aid, a := range ms.Agents {
		if a.Owner.Kind == ids.OwnerKindJob && a.Owner.Job == d.JobID && !a.Status.Terminal() {
			r.effect(effects.KillAgent{AgentID: aid})
		}
	}
	r.emit(events.JobFailing{JobID: d.JobID, Error: "cancelled"})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
