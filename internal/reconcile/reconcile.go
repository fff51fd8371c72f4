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

// Package reconcile runs the daemon's post-startup recovery procedure:
// after snapshot-load and WAL-replay rebuild materialized state, it
// re-arms running workers and crons, reconnects monitoring to agents
// that survived the restart, and fails the ones that didn't. It runs as
// a background task and never blocks startup readiness.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/state"
)

// Appender is the write-ahead log's append surface; reconciliation drives
// the same event path a running daemon would, rather than mutating state
// directly, so every recovered transition is itself durable.
type Appender interface {
	Append(data events.Data) (uint64, error)
}

// AgentChecker answers whether an agent process from a previous daemon
// lifetime is still alive.
type AgentChecker interface {
	IsAlive(ctx context.Context, agentID ids.AgentID) bool
}

// Recoverer reconnects a surviving agent's session-log watcher and
// liveness timer. A recovery failure (e.g. the session socket is gone
// even though the process check passed) is reported back as an error:
// the reconciler then emits AgentGone for a running job, marks a crew
// failed, and only logs it for a job waiting on a decision.
type Recoverer interface {
	RecoverJob(ctx context.Context, job state.Job, agentID ids.AgentID) error
	RecoverCrew(ctx context.Context, crew state.Crew, agentID ids.AgentID) error
}

// Reconciler walks materialized state once at startup and emits the
// events that bring it back in sync with the outside world.
type Reconciler struct {
	log     *slog.Logger
	wal     Appender
	checker AgentChecker
	recover Recoverer
}

// New builds a Reconciler.
func New(logger *slog.Logger, wal Appender, checker AgentChecker, recoverer Recoverer) *Reconciler {
	return &Reconciler{log: logger, wal: wal, checker: checker, recover: recoverer}
}

// Run performs the full reconciliation pass against ms, in the order
// spec'd: runbook cache warmup, workers, crons, crew, jobs.
func (r *Reconciler) Run(ctx context.Context, ms *state.MaterializedState) {
	r.reconcileWorkers(ms)
	r.reconcileCrons(ms)
	r.reconcileCrew(ctx, ms)
	r.reconcileJobs(ctx, ms)
}

// reconcileWorkers re-warms the runbook cache for every distinct hash a
// running worker references, then re-emits WorkerStarted so each
// worker's polling loop re-arms exactly like the manual start path.
func (r *Reconciler) reconcileWorkers(ms *state.MaterializedState) {
	workers := ms.RunningWorkers()
	if len(workers) == 0 {
		return
	}
	r.log.Info("reconcile: resuming running workers", "count", len(workers))

	emitted := make(map[string]bool)
	for _, w := range workers {
		if !emitted[w.RunbookHash] {
			emitted[w.RunbookHash] = true
			r.emitRunbookLoaded(ms, w.RunbookHash)
		}
	}

	for _, w := range workers {
		r.append(events.WorkerStarted{Scoped: w.Name})
	}
}

// reconcileCrons re-emits CronStarted for every cron that was armed
// before the restart.
func (r *Reconciler) reconcileCrons(ms *state.MaterializedState) {
	crons := ms.RunningCrons()
	if len(crons) == 0 {
		return
	}
	r.log.Info("reconcile: resuming running crons", "count", len(crons))
	for _, c := range crons {
		r.append(events.CronStarted{Scoped: c.Name})
	}
}

// reconcileCrew recovers or fails every non-terminal crew.
func (r *Reconciler) reconcileCrew(ctx context.Context, ms *state.MaterializedState) {
	crew := ms.NonTerminalCrew()
	if len(crew) == 0 {
		return
	}
	r.log.Info("reconcile: reconciling non-terminal crew", "count", len(crew))

	for _, c := range crew {
		if c.AgentID == nil {
			r.log.Warn("reconcile: crew has no agent_id at recovery, marking failed", "crew_id", c.ID)
			r.append(events.CrewUpdated{CrewID: c.ID, Status: string(state.CrewFailed), Reason: "no agent_id at recovery"})
			continue
		}

		agentID := *c.AgentID
		if !r.checker.IsAlive(ctx, agentID) {
			r.log.Info("reconcile: crew agent gone while daemon was down", "crew_id", c.ID, "agent_id", agentID)
			r.append(events.AgentGone{AgentID: agentID})
			continue
		}

		r.log.Info("reconcile: crew agent still alive, reconnecting", "crew_id", c.ID, "agent_id", agentID)
		if err := r.recover.RecoverCrew(ctx, c, agentID); err != nil {
			r.log.Warn("reconcile: failed to reconnect crew agent, marking failed", "crew_id", c.ID, "error", err)
			r.append(events.CrewUpdated{CrewID: c.ID, Status: string(state.CrewFailed), Reason: "recovery failed: " + err.Error()})
		}
	}
}

// reconcileJobs recovers or fails every non-terminal job. Waiting jobs
// with a live agent get monitoring reconnected so a resumed decision can
// still drive further transitions; everything else either reconnects or
// triggers the normal AgentGone exit path.
func (r *Reconciler) reconcileJobs(ctx context.Context, ms *state.MaterializedState) {
	jobs := ms.NonTerminalJobs()
	if len(jobs) == 0 {
		return
	}
	r.log.Info("reconcile: reconciling non-terminal jobs", "count", len(jobs))

	for _, j := range jobs {
		agentID, hasAgent := currentStepAgent(j)

		if j.StepStatus == state.StepWaiting {
			if hasAgent && r.checker.IsAlive(ctx, agentID) {
				r.log.Info("reconcile: reconnecting monitoring for waiting job", "job_id", j.ID)
				if err := r.recover.RecoverJob(ctx, j, agentID); err != nil {
					r.log.Warn("reconcile: failed to reconnect waiting job's monitoring", "job_id", j.ID, "error", err)
				}
			}
			continue
		}

		if !hasAgent {
			r.log.Warn("reconcile: job has no agent_id in step history, marking failed", "job_id", j.ID)
			r.append(events.JobAdvanced{JobID: j.ID, Step: "failed"})
			continue
		}

		if r.checker.IsAlive(ctx, agentID) {
			r.log.Info("reconcile: job agent still alive, reconnecting", "job_id", j.ID, "agent_id", agentID)
			if err := r.recover.RecoverJob(ctx, j, agentID); err != nil {
				r.log.Warn("reconcile: failed to reconnect job agent, triggering exit", "job_id", j.ID, "error", err)
				r.append(events.AgentGone{AgentID: agentID})
			}
			continue
		}

		r.log.Info("reconcile: job agent gone while daemon was down", "job_id", j.ID, "agent_id", agentID)
		r.append(events.AgentGone{AgentID: agentID})
	}
}

// currentStepAgent finds the agent_id bound to a job's current step from
// its most recent matching step_history entry.
func currentStepAgent(j state.Job) (ids.AgentID, bool) {
	for i := len(j.StepHistory) - 1; i >= 0; i-- {
		rec := j.StepHistory[i]
		if rec.Step == j.Step && rec.AgentID != "" {
			return rec.AgentID, true
		}
	}
	return "", false
}

func (r *Reconciler) emitRunbookLoaded(ms *state.MaterializedState, hash string) {
	stored, ok := ms.StoredRunbookByHash(hash)
	if !ok {
		r.log.Warn("reconcile: runbook referenced by a running worker is missing from state", "hash", hash)
		return
	}
	r.append(events.RunbookLoaded{Hash: stored.Hash, Version: stored.Version, JSON: stored.JSON})
}

func (r *Reconciler) append(d events.Data) {
	if _, err := r.wal.Append(d); err != nil {
		r.log.Error("reconcile: failed to append recovery event", "kind", d.Kind(), "error", err)
	}
}
