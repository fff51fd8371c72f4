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

package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
)

// MaterializedState is the full projection of the event log. It is built
// and mutated exclusively by ApplyEvent; nothing else writes to its maps.
type MaterializedState struct {
	mu sync.RWMutex

	Jobs       map[ids.JobID]*Job
	Crew       map[ids.CrewID]*Crew
	Agents     map[ids.AgentID]*AgentRecord
	Workspaces map[ids.WorkspaceID]*Workspace
	Workers    map[ids.ScopedName]*Worker
	Crons      map[ids.ScopedName]*Cron
	QueueItems map[ids.ScopedName]map[string]*QueueItem
	Decisions  map[ids.DecisionID]*Decision
	Runbooks   map[string]*StoredRunbook

	// Seq is the sequence number of the last event folded in, stamped into
	// snapshots so replay resumes at Seq+1.
	Seq uint64
}

// New returns an empty MaterializedState ready for replay from seq 0.
func New() *MaterializedState {
	return &MaterializedState{
		Jobs:       make(map[ids.JobID]*Job),
		Crew:       make(map[ids.CrewID]*Crew),
		Agents:     make(map[ids.AgentID]*AgentRecord),
		Workspaces: make(map[ids.WorkspaceID]*Workspace),
		Workers:    make(map[ids.ScopedName]*Worker),
		Crons:      make(map[ids.ScopedName]*Cron),
		QueueItems: make(map[ids.ScopedName]map[string]*QueueItem),
		Decisions:  make(map[ids.DecisionID]*Decision),
		Runbooks:   make(map[string]*StoredRunbook),
	}
}

// Job returns a copy of the job, if present.
func (ms *MaterializedState) Job(id ids.JobID) (Job, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	j, ok := ms.Jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Crew_ returns a copy of the crew, if present.
func (ms *MaterializedState) Crew_(id ids.CrewID) (Crew, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	c, ok := ms.Crew[id]
	if !ok {
		return Crew{}, false
	}
	return *c, true
}

// Agent returns a copy of the agent record, if present.
func (ms *MaterializedState) Agent(id ids.AgentID) (AgentRecord, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	a, ok := ms.Agents[id]
	if !ok {
		return AgentRecord{}, false
	}
	return *a, true
}

// WorkerByName returns a copy of a worker's configuration and dispatch
// state, if present.
func (ms *MaterializedState) WorkerByName(scoped ids.ScopedName) (Worker, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	w, ok := ms.Workers[scoped]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// QueueItemsByScope returns copies of every item currently pushed onto a
// persisted queue, in no particular order — callers that need FIFO or
// priority order sort the result themselves.
func (ms *MaterializedState) QueueItemsByScope(scoped ids.ScopedName) []QueueItem {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	items := ms.QueueItems[scoped]
	out := make([]QueueItem, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	return out
}

// RunningWorkers returns a copy of every worker currently in WorkerRunning
// status, for the startup reconciler to re-arm.
func (ms *MaterializedState) RunningWorkers() []Worker {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]Worker, 0)
	for _, w := range ms.Workers {
		if w.Status == WorkerRunning {
			out = append(out, *w)
		}
	}
	return out
}

// RunningCrons returns a copy of every cron currently in CronRunningSt
// status, for the startup reconciler to re-arm.
func (ms *MaterializedState) RunningCrons() []Cron {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]Cron, 0)
	for _, c := range ms.Crons {
		if c.Status == CronRunningSt {
			out = append(out, *c)
		}
	}
	return out
}

// JobKind returns a job's kind string, if the job exists. Satisfies
// internal/metrics's JobKindResolver for labeling step-duration samples.
func (ms *MaterializedState) JobKind(id ids.JobID) (string, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	j, ok := ms.Jobs[id]
	if !ok {
		return "", false
	}
	return j.Kind, true
}

// LiveAgents returns a copy of every agent record not yet Exited/Gone, for
// the metrics collector to poll for usage and the liveness checker to walk.
func (ms *MaterializedState) LiveAgents() []AgentRecord {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]AgentRecord, 0)
	for _, a := range ms.Agents {
		if a.Status != AgentExitedSt && a.Status != AgentGoneSt {
			out = append(out, *a)
		}
	}
	return out
}

// NonTerminalCrew returns a copy of every crew not yet in a terminal
// status, for the startup reconciler to recover or fail.
func (ms *MaterializedState) NonTerminalCrew() []Crew {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]Crew, 0)
	for _, c := range ms.Crew {
		if !c.Status.Terminal() {
			out = append(out, *c)
		}
	}
	return out
}

// NonTerminalJobs returns a copy of every job not yet terminal, for the
// startup reconciler to recover or fail.
func (ms *MaterializedState) NonTerminalJobs() []Job {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]Job, 0)
	for _, j := range ms.Jobs {
		if !j.Terminal() {
			out = append(out, *j)
		}
	}
	return out
}

// StoredRunbookByHash returns a copy of a cached runbook document, if
// present.
func (ms *MaterializedState) StoredRunbookByHash(hash string) (StoredRunbook, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	rb, ok := ms.Runbooks[hash]
	if !ok {
		return StoredRunbook{}, false
	}
	return *rb, true
}

// QueueItemByID returns a copy of a single persisted queue item, if present.
func (ms *MaterializedState) QueueItemByID(scoped ids.ScopedName, itemID string) (QueueItem, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	items, ok := ms.QueueItems[scoped]
	if !ok {
		return QueueItem{}, false
	}
	it, ok := items[itemID]
	if !ok {
		return QueueItem{}, false
	}
	return *it, true
}

// ApplyEvent is the sole mutator of a MaterializedState. It is idempotent
// per spec: replaying the same event twice (as can happen across a crash
// right after an append but before the processed-cursor advances) must
// leave state unchanged the second time. Every branch below achieves that
// by setting absolute values rather than accumulating deltas, except
// where a counter genuinely needs to; those branches increment
// unconditionally and rely on the Seq check below, which skips any event
// already folded in.
func ApplyEvent(ms *MaterializedState, ev events.Event) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ev.Seq <= ms.Seq {
		// Already folded in; a replay from a stale cursor must not
		// double-apply counters like ActionAttempts/TotalRetries.
		return
	}

	switch d := ev.Data.(type) {
	case events.RunbookLoaded:
		applyRunbookLoaded(ms, d)
	case events.JobCreated:
		applyJobCreated(ms, d, ev.At)
	case events.JobAdvanced:
		applyJobAdvanced(ms, d)
	case events.JobUpdated:
		applyJobUpdated(ms, d)
	case events.JobFailing:
		applyJobFailing(ms, d)
	case events.JobCancelling:
		applyJobCancelling(ms, d)
	case events.JobSuspending:
		applyJobSuspending(ms, d)
	case events.JobResume:
		applyJobResume(ms, d)
	case events.JobDeleted:
		delete(ms.Jobs, d.JobID)
	case events.JobAttemptRecorded:
		applyJobAttemptRecorded(ms, d)
	case events.CrewAttemptRecorded:
		applyCrewAttemptRecorded(ms, d)

	case events.StepStarted:
		applyStepStarted(ms, d, ev.At)
	case events.StepWaiting:
		applyStepWaiting(ms, d)
	case events.StepCompleted:
		applyStepCompleted(ms, d, ev.At)
	case events.StepFailed:
		applyStepFailed(ms, d, ev.At)
	case events.ShellExited:
		// Pure record; the engine reacts to it but state has nothing
		// further to project beyond the step transitions that follow
		// as separate events in the same batch.

	case events.AgentWorking:
		setAgentStatus(ms, d.AgentID, AgentRunning, ev.At)
	case events.AgentWaiting:
		setAgentStatus(ms, d.AgentID, AgentIdleSt, ev.At)
	case events.AgentIdle:
		setAgentStatus(ms, d.AgentID, AgentIdleSt, ev.At)
	case events.AgentFailed:
		setAgentStatus(ms, d.AgentID, AgentExitedSt, ev.At)
	case events.AgentExited:
		setAgentStatus(ms, d.AgentID, AgentExitedSt, ev.At)
	case events.AgentGone:
		setAgentStatus(ms, d.AgentID, AgentGoneSt, ev.At)
	case events.AgentSpawned:
		setAgentStatus(ms, d.AgentID, AgentRunning, ev.At)
	case events.AgentSpawnFailed:
		// No agent record to update; the owner's step/crew transitions
		// to Failed via a separate StepFailed/CrewUpdated event.

	case events.CrewCreated:
		applyCrewCreated(ms, d, ev.At)
	case events.CrewStarted:
		applyCrewStarted(ms, d, ev.At)
	case events.CrewUpdated:
		applyCrewUpdated(ms, d)
	case events.CrewResume:
		applyCrewResume(ms, d)
	case events.CrewDeleted:
		delete(ms.Crew, d.CrewID)

	case events.WorkspaceCreated:
		applyWorkspaceCreated(ms, d, ev.At)
	case events.WorkspaceReady:
		if w, ok := ms.Workspaces[d.WorkspaceID]; ok {
			w.Status = WorkspaceReadySt
		}
	case events.WorkspaceFailed:
		if w, ok := ms.Workspaces[d.WorkspaceID]; ok {
			w.Status = WorkspaceFailedSt
			w.FailReason = d.Reason
		}
	case events.WorkspaceDeleted:
		if w, ok := ms.Workspaces[d.WorkspaceID]; ok {
			w.Status = WorkspaceDeletedSt
		}

	case events.CronStarted:
		if c, ok := ms.Crons[d.Scoped]; ok {
			c.Status = CronRunningSt
		}
	case events.CronStopped:
		if c, ok := ms.Crons[d.Scoped]; ok {
			c.Status = CronStoppedSt
		}
	case events.CronDeleted:
		delete(ms.Crons, d.Scoped)

	case events.WorkerStarted:
		if w, ok := ms.Workers[d.Scoped]; ok {
			w.Status = WorkerRunning
		}
	case events.WorkerStopped:
		if w, ok := ms.Workers[d.Scoped]; ok {
			w.Status = WorkerStoppedSt
		}
	case events.WorkerResized:
		if w, ok := ms.Workers[d.Scoped]; ok {
			w.Concurrency = d.Concurrency
		}
	case events.WorkerDeleted:
		delete(ms.Workers, d.Scoped)
	case events.WorkerDispatched:
		applyWorkerDispatched(ms, d)

	case events.QueuePushed:
		applyQueuePushed(ms, d, ev.At)
	case events.QueueTaken:
		applyQueueItemStatus(ms, d.Scoped, d.ItemID, QueueItemActive, ev.At)
		clearWorkerTakeAttempts(ms, d.Scoped, d.ItemID)
	case events.QueueCompleted:
		applyQueueItemStatus(ms, d.Scoped, d.ItemID, QueueItemCompleted, ev.At)
		clearWorkerTakeAttempts(ms, d.Scoped, d.ItemID)
	case events.QueueFailed:
		applyQueueItemStatus(ms, d.Scoped, d.ItemID, QueueItemFailed, ev.At)
		incrementWorkerTakeAttempts(ms, d.Scoped, d.ItemID)
	case events.QueueRetry:
		applyQueueRetry(ms, d.Scoped, d.ItemID)
	case events.QueueDead:
		applyQueueItemStatus(ms, d.Scoped, d.ItemID, QueueItemDead, ev.At)
		clearWorkerTakeAttempts(ms, d.Scoped, d.ItemID)
	case events.QueueDropped:
		if items, ok := ms.QueueItems[d.Scoped]; ok {
			delete(items, d.ItemID)
		}
		clearWorkerTakeAttempts(ms, d.Scoped, d.ItemID)

	case events.DecisionCreated:
		applyDecisionCreated(ms, d, ev.At)
	case events.DecisionResolved:
		applyDecisionResolved(ms, d)
	}

	ms.Seq = ev.Seq
}

func applyRunbookLoaded(ms *MaterializedState, d events.RunbookLoaded) {
	if _, exists := ms.Runbooks[d.Hash]; exists {
		return
	}
	ms.Runbooks[d.Hash] = &StoredRunbook{Hash: d.Hash, Version: d.Version, JSON: d.JSON}
}

func applyJobCreated(ms *MaterializedState, d events.JobCreated, at time.Time) {
	if _, exists := ms.Jobs[d.JobID]; exists {
		return
	}
	ms.Jobs[d.JobID] = &Job{
		ID:             d.JobID,
		Kind:           d.Kind_,
		DisplayName:    d.DisplayName,
		Project:        d.Project,
		Dir:            d.Dir,
		RunbookHash:    d.RunbookHash,
		Vars:           cloneVars(d.Vars),
		Step:           "start",
		StepStatus:     StepPending,
		ActionAttempts: make(map[string]int),
		StepVisits:     make(map[string]int),
		WorkspaceID:    d.WorkspaceID,
		CronName:       d.CronName,
		CreatedAt:      at,
	}
}

func applyJobAdvanced(ms *MaterializedState, d events.JobAdvanced) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.Step = d.Step
	j.StepStatus = StepPending
	j.WaitingOn = nil
	j.StepVisits[d.Step]++
}

func applyJobUpdated(ms *MaterializedState, d events.JobUpdated) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	if j.Vars == nil {
		j.Vars = make(map[string]string)
	}
	for k, v := range d.Vars {
		j.Vars[k] = v
	}
}

func applyJobFailing(ms *MaterializedState, d events.JobFailing) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.Failing = true
	j.StepStatus = StepFailed
}

func applyJobCancelling(ms *MaterializedState, d events.JobCancelling) {
	if j, ok := ms.Jobs[d.JobID]; ok {
		j.Cancelling = true
	}
}

func applyJobSuspending(ms *MaterializedState, d events.JobSuspending) {
	if j, ok := ms.Jobs[d.JobID]; ok {
		j.Suspending = true
		j.StepStatus = StepSuspended
	}
}

func applyJobResume(ms *MaterializedState, d events.JobResume) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.Failing = false
	j.Cancelling = false
	j.Suspending = false
	if j.StepStatus == StepFailed || j.StepStatus == StepSuspended {
		j.StepStatus = StepRunning
	}
}

func applyJobAttemptRecorded(ms *MaterializedState, d events.JobAttemptRecorded) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	if j.ActionAttempts == nil {
		j.ActionAttempts = make(map[string]int)
	}
	j.ActionAttempts[d.Key] = d.Count
}

func applyCrewAttemptRecorded(ms *MaterializedState, d events.CrewAttemptRecorded) {
	c, ok := ms.Crew[d.CrewID]
	if !ok {
		return
	}
	if c.ActionAttempts == nil {
		c.ActionAttempts = make(map[string]int)
	}
	c.ActionAttempts[d.Key] = d.Count
}

func applyStepStarted(ms *MaterializedState, d events.StepStarted, at time.Time) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.Step = d.Step
	j.StepStatus = StepRunning
	j.StepHistory = append(j.StepHistory, StepHistoryRecord{
		Step:      d.Step,
		Outcome:   StepRunning,
		StartedAt: at,
	})
	if d.AgentID != nil {
		j.StepHistory[len(j.StepHistory)-1].AgentID = *d.AgentID
		ensureAgentRecord(ms, *d.AgentID, d.AgentName, ids.NewJobOwner(d.JobID), j.Project, j.WorkspaceID, at)
	}
}

func applyStepWaiting(ms *MaterializedState, d events.StepWaiting) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.StepStatus = StepWaiting
	j.WaitingOn = d.DecisionID
}

func applyStepCompleted(ms *MaterializedState, d events.StepCompleted, at time.Time) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.StepStatus = StepCompleted
	finishLastHistory(j, StepCompleted, "", at)
}

func applyStepFailed(ms *MaterializedState, d events.StepFailed, at time.Time) {
	j, ok := ms.Jobs[d.JobID]
	if !ok {
		return
	}
	j.StepStatus = StepFailed
	finishLastHistory(j, StepFailed, d.Error, at)
}

func finishLastHistory(j *Job, outcome StepStatus, errMsg string, at time.Time) {
	if len(j.StepHistory) == 0 {
		return
	}
	last := &j.StepHistory[len(j.StepHistory)-1]
	if !last.EndedAt.IsZero() {
		// Already finished; idempotent no-op on replay.
		return
	}
	last.Outcome = outcome
	last.EndedAt = at
	last.Error = errMsg
}

func setAgentStatus(ms *MaterializedState, id ids.AgentID, status AgentStatus, at time.Time) {
	a, ok := ms.Agents[id]
	if !ok {
		return
	}
	a.Status = status
	a.UpdatedAt = at
}

func applyCrewCreated(ms *MaterializedState, d events.CrewCreated, at time.Time) {
	if _, exists := ms.Crew[d.CrewID]; exists {
		return
	}
	ms.Crew[d.CrewID] = &Crew{
		ID:          d.CrewID,
		AgentName:   d.AgentName,
		CommandName: d.CommandName,
		Project:     d.Project,
		Cwd:         d.Cwd,
		RunbookHash: d.RunbookHash,
		Vars:        cloneVars(d.Vars),
		Status:      CrewPending,
		CreatedAt:   at,
	}
}

func applyCrewStarted(ms *MaterializedState, d events.CrewStarted, at time.Time) {
	c, ok := ms.Crew[d.CrewID]
	if !ok {
		return
	}
	agentID := d.AgentID
	c.AgentID = &agentID
	c.Status = CrewRunning
	ensureAgentRecord(ms, d.AgentID, c.AgentName, ids.NewCrewOwner(d.CrewID), c.Project, nil, at)
}

// ensureAgentRecord creates the AgentRecord the first time an owner's step
// or crew binds an AgentID; later AgentWorking/Idle/Gone events only update
// Status on the record this created.
func ensureAgentRecord(ms *MaterializedState, id ids.AgentID, name string, owner ids.OwnerID, project string, workspaceID *ids.WorkspaceID, at time.Time) {
	if _, exists := ms.Agents[id]; exists {
		return
	}
	workspacePath := ""
	if workspaceID != nil {
		if ws, ok := ms.Workspaces[*workspaceID]; ok {
			workspacePath = ws.Path
		}
	}
	ms.Agents[id] = &AgentRecord{
		ID:            id,
		Name:          name,
		Owner:         owner,
		Project:       project,
		WorkspacePath: workspacePath,
		Runtime:       AgentRuntimeLocal,
		Status:        AgentStarting,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func applyCrewUpdated(ms *MaterializedState, d events.CrewUpdated) {
	c, ok := ms.Crew[d.CrewID]
	if !ok {
		return
	}
	c.Status = CrewStatus(d.Status)
	c.Error = d.Reason
}

func applyCrewResume(ms *MaterializedState, d events.CrewResume) {
	c, ok := ms.Crew[d.CrewID]
	if !ok {
		return
	}
	if c.Status.Terminal() {
		c.Status = CrewRunning
		c.Error = ""
	}
}

func applyWorkspaceCreated(ms *MaterializedState, d events.WorkspaceCreated, at time.Time) {
	if _, exists := ms.Workspaces[d.WorkspaceID]; exists {
		return
	}
	ms.Workspaces[d.WorkspaceID] = &Workspace{
		ID:        d.WorkspaceID,
		Path:      d.Path,
		Branch:    d.Branch,
		Owner:     d.Owner,
		Status:    WorkspacePending,
		Type:      WorkspaceType(d.Type),
		CreatedAt: at,
	}
}

func applyWorkerDispatched(ms *MaterializedState, d events.WorkerDispatched) {
	w, ok := ms.Workers[d.Scoped]
	if !ok {
		return
	}
	if w.Owners == nil {
		w.Owners = make(map[string]ids.OwnerID)
	}
	if _, already := w.Owners[d.ItemID]; already {
		return
	}
	w.Owners[d.ItemID] = d.Owner
	w.ActiveJobs = append(w.ActiveJobs, d.Owner)
}

func applyQueuePushed(ms *MaterializedState, d events.QueuePushed, at time.Time) {
	items, ok := ms.QueueItems[d.Scoped]
	if !ok {
		items = make(map[string]*QueueItem)
		ms.QueueItems[d.Scoped] = items
	}
	if _, exists := items[d.ItemID]; exists {
		return
	}
	items[d.ItemID] = &QueueItem{
		ID:       d.ItemID,
		Queue:    d.Scoped,
		Project:  d.Scoped.Project(),
		Payload:  d.Payload,
		Status:   QueueItemPending,
		PushedAt: at,
	}
}

func applyQueueItemStatus(ms *MaterializedState, scoped ids.ScopedName, itemID string, status QueueItemStatus, at time.Time) {
	items, ok := ms.QueueItems[scoped]
	if !ok {
		return
	}
	item, ok := items[itemID]
	if !ok {
		return
	}
	item.Status = status
	if status == QueueItemActive {
		item.TakenAt = at
	}
}

// incrementWorkerTakeAttempts and clearWorkerTakeAttempts track retry
// counts for worker-claimed items that have no backing QueueItem record,
// since an externally-listed item is never QueuePushed.
func incrementWorkerTakeAttempts(ms *MaterializedState, scoped ids.ScopedName, itemID string) {
	w, ok := ms.Workers[scoped]
	if !ok {
		return
	}
	if w.TakeAttempts == nil {
		w.TakeAttempts = make(map[string]int)
	}
	w.TakeAttempts[itemID]++
}

func clearWorkerTakeAttempts(ms *MaterializedState, scoped ids.ScopedName, itemID string) {
	w, ok := ms.Workers[scoped]
	if !ok {
		return
	}
	delete(w.TakeAttempts, itemID)
}

func applyQueueRetry(ms *MaterializedState, scoped ids.ScopedName, itemID string) {
	items, ok := ms.QueueItems[scoped]
	if !ok {
		return
	}
	item, ok := items[itemID]
	if !ok {
		return
	}
	item.Status = QueueItemPending
	item.Retries++
}

func applyDecisionCreated(ms *MaterializedState, d events.DecisionCreated, at time.Time) {
	if _, exists := ms.Decisions[d.DecisionID]; exists {
		return
	}
	var options []DecisionOption
	_ = json.Unmarshal(d.Options, &options)

	var questions *QuestionData
	if len(d.Questions) > 0 {
		questions = &QuestionData{Payload: d.Questions}
	}

	ms.Decisions[d.DecisionID] = &Decision{
		ID:        d.DecisionID,
		Owner:     d.Owner,
		Project:   d.Owner.String(),
		Source:    DecisionSource(d.Source),
		Context:   d.Context,
		Options:   options,
		Questions: questions,
		CreatedAt: at,
	}
}

func applyDecisionResolved(ms *MaterializedState, d events.DecisionResolved) {
	dec, ok := ms.Decisions[d.DecisionID]
	if !ok || dec.Resolved() {
		return
	}
	dec.Choices = d.Choices
	dec.Message = d.Message
	dec.ResolvedAt = time.UnixMilli(d.ResolvedAtMS).UTC()
}

func cloneVars(src map[string]string) map[string]string {
	if src == nil {
		return make(map[string]string)
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
