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
	"fmt"
	"strings"

	"github.com/oddjobs/oddjobs/internal/decision"
	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
)

// idleTrigger names which signal funneled into dispatchIdleLikeSignal, used
// as the first half of the chained-attempts counter key.
type idleTrigger string

const (
	triggerIdle        idleTrigger = "idle"
	triggerStopBlocked idleTrigger = "stop_blocked"
	triggerStopAllowed idleTrigger = "stop_allowed"
	triggerDead        idleTrigger = "dead"
	triggerError       idleTrigger = "error"
)

// dispatchIdleLikeSignal is the unified idle-dispatch entry point that
// AgentWaiting/AgentIdle/AgentStopBlocked/AgentStopAllowed all funnel
// through, each contributing its own chain-position key via trigger so a
// stop-blocked chain and a plain idle chain don't share one counter. The
// is_waiting guard prevents double-dispatch when both a stop-blocked signal
// and a later AgentIdle fallback fire for the same turn.
func (e *Engine) dispatchIdleLikeSignal(ms *state.MaterializedState, agentID ids.AgentID, trigger idleTrigger, r *Result) {
	owner, ok := findAgentOwner(ms, agentID)
	if !ok {
		return
	}
	if ownerIsWaiting(ms, owner) {
		return
	}

	// Print-mode exit race: the adapter registers idle just before the
	// process exits. Defer to the exit path rather than dispatching on_idle
	// against an agent that is already gone.
	if a, ok := ms.Agent(agentID); ok && a.Status == state.AgentExitedSt {
		return
	}

	cfg, step, ok := e.idleConfigFor(ms, owner)
	if !ok {
		e.warn("idle dispatch: no on_idle config resolved", "owner", owner.String())
		return
	}

	e.fireOnIdle(ms, owner, agentID, step, cfg, trigger, r)
}

// ownerIsWaiting reports whether the owner's step/crew is already parked on
// a decision, which makes a second idle dispatch for the same turn a no-op.
func ownerIsWaiting(ms *state.MaterializedState, owner ids.OwnerID) bool {
	switch owner.Kind {
	case ids.OwnerKindJob:
		j, ok := ms.Job(owner.Job)
		return ok && j.StepStatus == state.StepWaiting
	case ids.OwnerKindCrew:
		c, ok := ms.Crew_(owner.Crew)
		return ok && c.Status == state.CrewWaiting
	default:
		return false
	}
}

func (e *Engine) idleConfigFor(ms *state.MaterializedState, owner ids.OwnerID) (runbook.OnIdleConfig, string, bool) {
	hash, ok := ownerRunbookHash(ms, owner)
	if !ok {
		return runbook.OnIdleConfig{}, "", false
	}
	rb, err := e.Runbooks.Get(hash)
	if err != nil {
		return runbook.OnIdleConfig{}, "", false
	}

	switch owner.Kind {
	case ids.OwnerKindJob:
		j, ok := ms.Job(owner.Job)
		if !ok {
			return runbook.OnIdleConfig{}, "", false
		}
		jobDef, ok := rb.Jobs[j.Kind]
		if !ok {
			return runbook.OnIdleConfig{}, "", false
		}
		stepDef, ok := jobDef.Steps[j.Step]
		if !ok {
			return runbook.OnIdleConfig{}, "", false
		}
		return stepDef.OnIdle, j.Step, true
	case ids.OwnerKindCrew:
		c, ok := ms.Crew_(owner.Crew)
		if !ok {
			return runbook.OnIdleConfig{}, "", false
		}
		agentDef, ok := rb.Agents[c.AgentName]
		if !ok {
			return runbook.OnIdleConfig{}, "", false
		}
		return agentDef.OnIdle, "", true
	default:
		return runbook.OnIdleConfig{}, "", false
	}
}

func (e *Engine) attemptKey(trigger idleTrigger) string {
	return fmt.Sprintf("%s:0", trigger)
}

// fireOnIdle executes the trigger matrix for one resolved on_idle config,
// honoring the chained-attempts counter before taking the terminal action.
func (e *Engine) fireOnIdle(ms *state.MaterializedState, owner ids.OwnerID, agentID ids.AgentID, step string, cfg runbook.OnIdleConfig, trigger idleTrigger, r *Result) {
	key := e.attemptKey(trigger)
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	count := currentAttempts(ms, owner, key) + 1
	recordAttempt(owner, key, count, r)

	if count < attempts {
		// Not yet at the terminal action: cooldown and wait for the next
		// idle signal to re-enter this same chain position.
		cooldown := cfg.Cooldown
		if cooldown <= 0 {
			cooldown = defaultIdleCooldown
		}
		r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: cooldown})
		return
	}

	// Terminal action reached: reset the counter on any transition away
	// from this idle chain (success or not — chained-attempt counters key
	// on trigger, not outcome, so the next idle cycle starts fresh).
	recordAttempt(owner, key, 0, r)

	switch cfg.Action {
	case runbook.OnIdleNudge:
		r.effect(effects.SendToAgent{AgentID: agentID, Input: cfg.Message})
		r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: livenessInterval})
	case runbook.OnIdleDone:
		e.completeStep(ms, owner, step, r)
	case runbook.OnIdleFail:
		msg := cfg.Message
		if msg == "" {
			msg = "agent idle"
		}
		failOwner(ms, owner, step, msg, r)
	case runbook.OnIdleResume:
		r.effect(effects.KillAgent{AgentID: agentID})
		resumeOwner(ms, owner, cfg.Message, r)
	case runbook.OnIdleEscalate:
		e.escalate(ms, owner, agentID, step, state.DecisionSourceIdle, "agent idle", nil, r)
	case runbook.OnIdleGate:
		r.effect(effects.Shell{Owner: &owner, Step: step, Command: cfg.GateCmd})
	case runbook.OnIdleAuto:
		// Do nothing; the agent client handles self-determination.
	}
}

func currentAttempts(ms *state.MaterializedState, owner ids.OwnerID, key string) int {
	switch owner.Kind {
	case ids.OwnerKindJob:
		j, ok := ms.Job(owner.Job)
		if !ok {
			return 0
		}
		return j.ActionAttempts[key]
	case ids.OwnerKindCrew:
		c, ok := ms.Crew_(owner.Crew)
		if !ok {
			return 0
		}
		return c.ActionAttempts[key]
	default:
		return 0
	}
}

// recordAttempt emits the owner-appropriate attempt-counter event.
func recordAttempt(owner ids.OwnerID, key string, count int, r *Result) {
	switch owner.Kind {
	case ids.OwnerKindJob:
		r.emit(events.JobAttemptRecorded{JobID: owner.Job, Key: key, Count: count})
	case ids.OwnerKindCrew:
		r.emit(events.CrewAttemptRecorded{CrewID: owner.Crew, Key: key, Count: count})
	}
}

func (e *Engine) completeStep(ms *state.MaterializedState, owner ids.OwnerID, step string, r *Result) {
	if owner.Kind != ids.OwnerKindJob {
		r.emit(events.CrewUpdated{CrewID: owner.Crew, Status: string(state.CrewCompleted)})
		return
	}
	j, ok := ms.Job(owner.Job)
	if !ok {
		return
	}
	rb, err := e.Runbooks.Get(j.RunbookHash)
	if err != nil {
		failOwner(ms, owner, step, err.Error(), r)
		return
	}
	jobDef := rb.Jobs[j.Kind]
	stepDef := jobDef.Steps[step]
	r.emit(events.StepCompleted{JobID: owner.Job, Step: step})
	advanceJob(owner.Job, stepDef.OnDone, r)
}

func resumeOwner(ms *state.MaterializedState, owner ids.OwnerID, message string, r *Result) {
	switch owner.Kind {
	case ids.OwnerKindJob:
		r.emit(events.JobResume{JobID: owner.Job, Message: message, Kill: true})
	case ids.OwnerKindCrew:
		r.emit(events.CrewResume{CrewID: owner.Crew, Message: message, Kill: true})
	}
	_ = ms
}

// escalate builds the DecisionCreated event per source, parks the owner in
// Waiting, raises a notification, and cancels the exit_deferred timer while
// keeping liveness armed.
func (e *Engine) escalate(ms *state.MaterializedState, owner ids.OwnerID, agentID ids.AgentID, step string, source state.DecisionSource, context string, questions *state.QuestionData, r *Result) {
	decisionID := ids.NewDecisionID()
	options := decisionOptionsFor(source)
	optionsJSON := mustMarshalOptions(options)

	var agentIDPtr *ids.AgentID
	if agentID != "" {
		agentIDPtr = &agentID
	}

	var questionsJSON []byte
	if questions != nil {
		if err := decision.ValidateQuestionData(questions); err != nil {
			e.warn("escalate: question payload failed schema validation", "owner", owner.String(), "error", err.Error())
		}
		questionsJSON, _ = json.Marshal(questions)
	}

	r.emit(events.DecisionCreated{
		DecisionID: decisionID,
		Owner:      owner,
		AgentID:    agentIDPtr,
		Source:     string(source),
		Context:    context,
		Options:    optionsJSON,
		Questions:  questionsJSON,
	})

	switch owner.Kind {
	case ids.OwnerKindJob:
		r.emit(events.StepWaiting{JobID: owner.Job, Step: step, Reason: context, DecisionID: &decisionID})
	case ids.OwnerKindCrew:
		r.emit(events.CrewUpdated{CrewID: owner.Crew, Status: string(state.CrewWaiting)})
	}

	r.effect(effects.Notify{Title: "Odd Jobs: decision needed", Message: context})
	r.effect(effects.CancelTimer{ID: ids.ExitDeferredTimer(owner)})
	_ = ms
}

// decisionOptionsFor and mustMarshalOptions delegate to internal/decision,
// which owns the option-set and JSON-schema-validation concerns shared with
// anything else that needs to reason about a Decision's shape.
func decisionOptionsFor(source state.DecisionSource) []state.DecisionOption {
	return decision.OptionsFor(source)
}

func mustMarshalOptions(options []state.DecisionOption) []byte {
	return decision.MarshalOptions(options)
}

func (e *Engine) handleAgentPrompt(ms *state.MaterializedState, d events.AgentPrompt, r *Result) {
	owner, ok := findAgentOwner(ms, d.AgentID)
	if !ok || ownerIsWaiting(ms, owner) {
		return
	}
	_, step, _ := e.idleConfigFor(ms, owner)

	var source state.DecisionSource
	switch d.Type {
	case "question":
		source = state.DecisionSourceQuestion
	case "plan":
		source = state.DecisionSourcePlan
	case "approval":
		source = state.DecisionSourceApproval
	default:
		source = state.DecisionSourceQuestion
	}

	context := d.LastMessage
	if context == "" {
		context = "agent requested input"
	}

	var questions *state.QuestionData
	if len(d.Questions) > 0 {
		questions = &state.QuestionData{Payload: d.Questions}
	}

	e.escalate(ms, owner, d.AgentID, step, source, context, questions, r)
}

// handleAgentFailed classifies the failure: RateLimited/OutOfCredits retry
// via resume with cooldown, Unauthorized/NoInternet escalate, Other
// escalates by default.
func (e *Engine) handleAgentFailed(ms *state.MaterializedState, d events.AgentFailed, r *Result) {
	owner, ok := findAgentOwner(ms, d.AgentID)
	if !ok || ownerIsWaiting(ms, owner) {
		return
	}
	_, step, _ := e.idleConfigFor(ms, owner)

	switch classifyFailure(d.Error) {
	case "RateLimited", "OutOfCredits":
		key := e.attemptKey(triggerError)
		count := currentAttempts(ms, owner, key) + 1
		recordAttempt(owner, key, count, r)
		r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: defaultIdleCooldown})
		resumeOwner(ms, owner, "", r)
	default:
		e.escalate(ms, owner, d.AgentID, step, state.DecisionSourceError, d.Error, nil, r)
	}
}

func classifyFailure(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"):
		return "RateLimited"
	case strings.Contains(lower, "out of credits"), strings.Contains(lower, "insufficient credits"):
		return "OutOfCredits"
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid api key"):
		return "Unauthorized"
	case strings.Contains(lower, "no internet"), strings.Contains(lower, "network"):
		return "NoInternet"
	default:
		return "Other"
	}
}

// handleAgentExited reports a clean process exit; the owner's on_idle
// "done"-style terminal handling already ran via the normal idle path if
// the agent exited cooperatively, so this only needs to cover the
// uncooperative case (process exited without ever going idle).
func (e *Engine) handleAgentExited(ms *state.MaterializedState, d events.AgentExited, r *Result) {
	owner, ok := findAgentOwner(ms, d.AgentID)
	if !ok || ownerIsWaiting(ms, owner) {
		return
	}
	exitCode := 0
	if d.ExitCode != nil {
		exitCode = *d.ExitCode
	}
	if exitCode == 0 {
		_, step, ok := e.idleConfigFor(ms, owner)
		if ok {
			e.completeStep(ms, owner, step, r)
			return
		}
	}
	r.effect(effects.SetTimer{ID: ids.ExitDeferredTimer(owner), Duration: exitDeferredGrace})
}

// handleAgentGone treats an irrecoverable agent as the Dead escalation
// source, since liveness confirmed the process cannot be reconnected to.
func (e *Engine) handleAgentGone(ms *state.MaterializedState, d events.AgentGone, r *Result) {
	owner, ok := findAgentOwner(ms, d.AgentID)
	if !ok || ownerIsWaiting(ms, owner) {
		return
	}
	_, step, _ := e.idleConfigFor(ms, owner)
	e.escalate(ms, owner, d.AgentID, step, state.DecisionSourceDead, "agent process exited unexpectedly", nil, r)
}

func (e *Engine) handleAgentSpawnFailed(ms *state.MaterializedState, d events.AgentSpawnFailed, r *Result) {
	failOwner(ms, d.Owner, "", "failed to spawn agent: "+d.Reason, r)
	_ = ms
}

// handleJobResume honors the resume semantics: nudge a live agent in
// place, or kill-and-respawn when requested or when no agent is alive.
func (e *Engine) handleJobResume(ms *state.MaterializedState, d events.JobResume, r *Result) {
	e.resumeCommon(ms, ids.NewJobOwner(d.JobID), d.Message, d.Kill, r)
}

func (e *Engine) handleCrewResume(ms *state.MaterializedState, d events.CrewResume, r *Result) {
	e.resumeCommon(ms, ids.NewCrewOwner(d.CrewID), d.Message, d.Kill, r)
}

func (e *Engine) resumeCommon(ms *state.MaterializedState, owner ids.OwnerID, message string, kill bool, r *Result) {
	agentID, alive := liveAgentFor(ms, owner)

	for _, dec := range ms.Decisions {
		if dec.Owner == owner && !dec.Resolved() {
			r.emit(events.DecisionResolved{
				DecisionID:   dec.ID,
				Choices:      []int{0},
				Message:      "superseded by resume",
				ResolvedAtMS: e.Clock.Now().UnixMilli(),
			})
		}
	}

	if alive && !kill {
		r.effect(effects.SendToAgent{AgentID: agentID, Input: message})
		r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: livenessInterval})
		return
	}

	if alive {
		r.effect(effects.KillAgent{AgentID: agentID})
	}

	rb, err := e.Runbooks.Get(ownerRunbookHashOrEmpty(ms, owner))
	if err != nil {
		failOwner(ms, owner, "", err.Error(), r)
		return
	}
	agentDef, workspacePath, cwd, ok := ownerAgentSpawnInfo(ms, rb, owner)
	if !ok {
		return
	}
	vars := ownerVars(ms, owner)
	scope := scopeForJob(ms, ownerJobIDOrZero(owner), vars, cwd)
	r.effect(effects.SpawnAgent{
		Owner:         owner,
		AgentName:     agentDef.Name,
		WorkspacePath: workspacePath,
		Cwd:           cwd,
		Command:       runbook.InterpolateEscaped(agentDef.Command, scope),
		Env:           agentDef.Env,
		Unset:         agentDef.Unset,
		Resume:        true,
		OnIdleAction:  string(agentDef.OnIdle.Action),
		OnIdleMessage: agentDef.OnIdle.Message,
		OnIdleGateCmd: agentDef.OnIdle.GateCmd,
		Prime:         agentDef.Prime,
		StopMode:      agentDef.Stop.Mode,
	})
	r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: livenessInterval})
}

func ownerVars(ms *state.MaterializedState, owner ids.OwnerID) map[string]string {
	switch owner.Kind {
	case ids.OwnerKindJob:
		j, _ := ms.Job(owner.Job)
		return j.Vars
	case ids.OwnerKindCrew:
		c, _ := ms.Crew_(owner.Crew)
		return c.Vars
	default:
		return nil
	}
}

func ownerJobIDOrZero(owner ids.OwnerID) ids.JobID {
	if owner.Kind == ids.OwnerKindJob {
		return owner.Job
	}
	return ""
}

func liveAgentFor(ms *state.MaterializedState, owner ids.OwnerID) (ids.AgentID, bool) {
	for id, a := range ms.Agents {
		if a.Owner == owner && a.Status != state.AgentExitedSt && a.Status != state.AgentGoneSt {
			return id, true
		}
	}
	return "", false
}

func ownerRunbookHashOrEmpty(ms *state.MaterializedState, owner ids.OwnerID) string {
	hash, _ := ownerRunbookHash(ms, owner)
	return hash
}

func ownerAgentSpawnInfo(ms *state.MaterializedState, rb runbook.Runbook, owner ids.OwnerID) (agentDef runbook.AgentDef, workspacePath, cwd string, ok bool) {
	switch owner.Kind {
	case ids.OwnerKindJob:
		j, found := ms.Job(owner.Job)
		if !found {
			return runbook.AgentDef{}, "", "", false
		}
		jobDef, found := rb.Jobs[j.Kind]
		if !found {
			return runbook.AgentDef{}, "", "", false
		}
		stepDef, found := jobDef.Steps[j.Step]
		if !found || stepDef.Run.Kind != runbook.RunAgent {
			return runbook.AgentDef{}, "", "", false
		}
		def, found := rb.Agents[stepDef.Run.AgentName]
		if !found {
			return runbook.AgentDef{}, "", "", false
		}
		path := j.Dir
		if j.WorkspaceID != nil {
			if ws, found := ms.Workspaces[*j.WorkspaceID]; found {
				path = ws.Path
			}
		}
		return def, path, j.Dir, true
	case ids.OwnerKindCrew:
		c, found := ms.Crew_(owner.Crew)
		if !found {
			return runbook.AgentDef{}, "", "", false
		}
		def, found := rb.Agents[c.AgentName]
		if !found {
			return runbook.AgentDef{}, "", "", false
		}
		return def, c.Cwd, c.Cwd, true
	default:
		return runbook.AgentDef{}, "", "", false
	}
}

// handleDecisionResolved applies the human's choice per the decision's
// source: Retry resumes, Skip advances past the failing step, Cancel
// terminates the owner as failed, and option-bearing sources forward a
// structured response to the live agent.
func (e *Engine) handleDecisionResolved(ms *state.MaterializedState, d events.DecisionResolved, r *Result) {
	dec, ok := ms.Decisions[d.DecisionID]
	if !ok {
		return
	}
	owner := dec.Owner
	choice := ""
	if len(d.Choices) > 0 && d.Choices[0] < len(dec.Options) {
		choice = dec.Options[d.Choices[0]].Label
	}

	switch choice {
	case "Resume", "Nudge", "Retry":
		resumeOwner(ms, owner, d.Message, r)
	case "Done":
		_, step, ok := e.idleConfigFor(ms, owner)
		if ok {
			e.completeStep(ms, owner, step, r)
		}
	case "Skip":
		if owner.Kind == ids.OwnerKindJob {
			j, found := ms.Job(owner.Job)
			if found {
				rb, err := e.Runbooks.Get(j.RunbookHash)
				if err == nil {
					jobDef := rb.Jobs[j.Kind]
					stepDef := jobDef.Steps[j.Step]
					advanceJob(owner.Job, stepDef.OnDone, r)
				}
			}
		}
	case "Cancel":
		if owner.Kind == ids.OwnerKindJob {
			r.emit(events.JobCancel{JobID: owner.Job})
		} else {
			r.emit(events.CrewUpdated{CrewID: owner.Crew, Status: string(state.CrewCancelled)})
		}
	case "Dismiss":
		// No further action.
	default:
		// Option-bearing sources (Question/Plan/Approval) forward the raw
		// response to the agent so it can continue its turn.
		if agentID, alive := liveAgentFor(ms, owner); alive {
			r.effect(effects.RespondToAgent{AgentID: agentID, Response: d.Message})
		}
	}
}
