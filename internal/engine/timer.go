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
	"strings"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
)

// handleTimerStart dispatches a fired composite TimerID to the right
// sub-handler by its "<tag>:..." prefix.
func (e *Engine) handleTimerStart(ms *state.MaterializedState, d events.TimerStart, r *Result) {
	tag, rest, ok := strings.Cut(string(d.ID), ":")
	if !ok {
		e.warn("timer fired with malformed id", "id", d.ID)
		return
	}

	switch tag {
	case "liveness":
		e.handleLivenessTimer(ms, rest, r)
	case "exit_deferred":
		e.handleExitDeferredTimer(ms, rest, r)
	case "cron":
		e.handleCronTimer(ms, rest, r)
	default:
		e.warn("timer fired with unknown tag", "tag", tag, "id", d.ID)
	}
}

// handleLivenessTimer re-checks a spawned agent: if its record has already
// moved to a terminal status the adapter's own AgentGone/AgentExited event
// covers it, so the engine only needs to re-arm. The actual OS-level
// is_alive probe lives in the adapter/executor; what reaches the engine
// here is the scheduled recheck tick itself, which re-applies the idle
// dispatch if the agent is still sitting idle past the threshold.
func (e *Engine) handleLivenessTimer(ms *state.MaterializedState, ownerTag string, r *Result) {
	owner, err := ids.ParseOwnerID(ownerTag)
	if err != nil {
		return
	}
	agentID, alive := liveAgentFor(ms, owner)
	if !alive {
		return
	}
	a, ok := ms.Agent(agentID)
	if !ok {
		return
	}
	if a.Status == state.AgentIdleSt && !ownerIsWaiting(ms, owner) {
		e.dispatchIdleLikeSignal(ms, agentID, triggerIdle, r)
		return
	}
	r.effect(effects.SetTimer{ID: ids.LivenessTimer(owner), Duration: livenessInterval})
}

// handleExitDeferredTimer converts an unexpected exit into AgentGone once
// the adapter's grace window has passed. It targets the owner's live agent
// record if there is one, otherwise the owner's exited agent.
func (e *Engine) handleExitDeferredTimer(ms *state.MaterializedState, ownerTag string, r *Result) {
	owner, err := ids.ParseOwnerID(ownerTag)
	if err != nil {
		return
	}
	agentID, found := liveAgentFor(ms, owner)
	if !found {
		for id, a := range ms.Agents {
			if a.Owner == owner && a.Status == state.AgentExitedSt {
				agentID, found = id, true
				break
			}
		}
	}
	if !found {
		return
	}
	r.emit(events.AgentGone{AgentID: agentID})
}

// handleCronTimer fires the cron's run target if concurrency allows, then
// always reschedules so cadence is preserved whether it fired or skipped.
func (e *Engine) handleCronTimer(ms *state.MaterializedState, rest string, r *Result) {
	name, namespace, _ := strings.Cut(rest, ":")
	scoped := ids.NewScopedName(namespace, name)
	cron, ok := ms.Crons[scoped]
	if !ok || cron.Status != state.CronRunningSt {
		return
	}

	if countActiveCronJobs(ms, scoped) < cron.Concurrency || cron.Concurrency <= 0 {
		rb, err := e.Runbooks.Get(cron.RunbookHash)
		if err != nil {
			e.warn("cron fire: runbook missing", "cron", scoped, "error", err)
		} else {
			owner := ids.NewJobOwner(ids.NewJobID())
			directive := cronTargetDirective(cron.Target)
			cmd := events.CommandRun{
				Owner:     owner,
				Project:   cron.Project,
				InvokeDir: cron.ProjectPath,
				CronName:  string(scoped),
			}
			r.emit(events.CronFired{Scoped: scoped, Owner: owner})
			e.dispatchDirective(ms, cmd, rb, directive, cron.Target.Name, r)
		}
	} else {
		r.emit(events.CronSkipped{Scoped: scoped, Reason: "concurrency_limit"})
	}

	r.effect(effects.SetTimer{ID: ids.CronTimer(name, namespace), Duration: cron.Interval})
}

// cronTargetDirective converts a materialized cron's compact run target
// into the runbook.RunDirective shape dispatchDirective expects.
func cronTargetDirective(target state.CronRunTarget) runbook.RunDirective {
	switch target.Kind {
	case state.CronTargetJob:
		return runbook.RunDirective{Kind: runbook.RunJob, JobKind: target.Name}
	case state.CronTargetAgent:
		return runbook.RunDirective{Kind: runbook.RunAgent, AgentName: target.Name}
	case state.CronTargetShell:
		return runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: target.Name}
	default:
		return runbook.RunDirective{}
	}
}

func countActiveCronJobs(ms *state.MaterializedState, scoped ids.ScopedName) int {
	count := 0
	for id := range ms.Jobs {
		j, _ := ms.Job(id)
		if j.CronName == string(scoped) && !j.Terminal() {
			count++
		}
	}
	return count
}
