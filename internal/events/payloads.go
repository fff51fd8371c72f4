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

package events

import (
	"encoding/json"

	"github.com/oddjobs/oddjobs/internal/ids"
)

// Data is implemented by every concrete event payload type. It carries no
// behavior; it exists purely to constrain Event.Data to known payloads (or
// *Custom).
type Data interface {
	Kind() Kind
}

// Shutdown requests a clean daemon shutdown.
type Shutdown struct{}

func (Shutdown) Kind() Kind { return KindShutdown }

// RunbookLoaded caches a runbook snapshot by content hash. Duplicate hashes
// are a no-op per the content-dedup invariant.
type RunbookLoaded struct {
	Hash    string `json:"hash"`
	Version string `json:"version"`
	JSON    string `json:"json"`
}

func (RunbookLoaded) Kind() Kind { return KindRunbookLoaded }

// CommandRun dispatches a named runbook command for a freshly-minted owner.
type CommandRun struct {
	Owner       ids.OwnerID       `json:"owner"`
	Name        string            `json:"name"`
	ProjectPath string            `json:"project_path"`
	InvokeDir   string            `json:"invoke_dir"`
	Project     string            `json:"project"`
	Command     string            `json:"command"`
	Args        map[string]string `json:"args"`
	CronName    string            `json:"cron_name,omitempty"`
}

func (CommandRun) Kind() Kind { return KindCommandRun }

// JobCreated records a new job instance.
type JobCreated struct {
	JobID        ids.JobID         `json:"job_id"`
	Kind_        string            `json:"kind"`
	DisplayName  string            `json:"display_name"`
	Project      string            `json:"project"`
	Dir          string            `json:"dir"`
	RunbookHash  string            `json:"runbook_hash"`
	Vars         map[string]string `json:"vars"`
	WorkspaceID  *ids.WorkspaceID  `json:"workspace_id,omitempty"`
	CronName     string            `json:"cron_name,omitempty"`
}

func (JobCreated) Kind() Kind { return KindJobCreated }

// JobAdvanced moves a job to a new current step.
type JobAdvanced struct {
	JobID ids.JobID `json:"job_id"`
	Step  string    `json:"step"`
}

func (JobAdvanced) Kind() Kind { return KindJobAdvanced }

// JobUpdated merges variables into a job's recognized inputs.
type JobUpdated struct {
	JobID ids.JobID         `json:"job_id"`
	Vars  map[string]string `json:"vars"`
}

func (JobUpdated) Kind() Kind { return KindJobUpdated }

// JobResume clears terminal/error state on a job and either nudges or
// respawns its agent.
type JobResume struct {
	JobID   ids.JobID `json:"job_id"`
	Message string    `json:"message,omitempty"`
	Kill    bool      `json:"kill"`
}

func (JobResume) Kind() Kind { return KindJobResume }

// JobFailing marks a job as transitioning to Failed.
type JobFailing struct {
	JobID ids.JobID `json:"job_id"`
	Error string    `json:"error"`
}

func (JobFailing) Kind() Kind { return KindJobFailing }

// JobCancelling marks a job as entering cancellation.
type JobCancelling struct {
	JobID ids.JobID `json:"job_id"`
}

func (JobCancelling) Kind() Kind { return KindJobCancelling }

// JobCancel requests cancellation of a job.
type JobCancel struct {
	JobID ids.JobID `json:"job_id"`
}

func (JobCancel) Kind() Kind { return KindJobCancel }

// JobSuspending marks a job as entering suspension.
type JobSuspending struct {
	JobID ids.JobID `json:"job_id"`
}

func (JobSuspending) Kind() Kind { return KindJobSuspending }

// JobSuspend requests suspension of a job.
type JobSuspend struct {
	JobID ids.JobID `json:"job_id"`
}

func (JobSuspend) Kind() Kind { return KindJobSuspend }

// JobDeleted prunes a terminal job from materialized state.
type JobDeleted struct {
	JobID ids.JobID `json:"job_id"`
}

func (JobDeleted) Kind() Kind { return KindJobDeleted }

// JobAttemptRecorded updates a job's chained-attempt counter for one
// (trigger, chain_position) key, per the on_idle "attempts" bookkeeping
// invariant. A counter is reset (recorded by setting Count back to 0) only
// when its chain reaches the terminal action, whatever that action's
// outcome; a step advancing on success does not reset it, and neither
// does a failure.
type JobAttemptRecorded struct {
	JobID ids.JobID `json:"job_id"`
	Key   string    `json:"key"`
	Count int       `json:"count"`
}

func (JobAttemptRecorded) Kind() Kind { return KindJobAttemptRecorded }

// CrewAttemptRecorded is JobAttemptRecorded's crew-owner counterpart.
type CrewAttemptRecorded struct {
	CrewID ids.CrewID `json:"crew_id"`
	Key    string     `json:"key"`
	Count  int        `json:"count"`
}

func (CrewAttemptRecorded) Kind() Kind { return KindCrewAttemptRecorded }

// StepStarted begins execution of a named step, optionally binding an
// agent.
type StepStarted struct {
	JobID     ids.JobID  `json:"job_id"`
	Step      string     `json:"step"`
	AgentID   *ids.AgentID `json:"agent_id,omitempty"`
	AgentName string     `json:"agent_name,omitempty"`
}

func (StepStarted) Kind() Kind { return KindStepStarted }

// StepWaiting parks a step pending a decision (or another external event).
type StepWaiting struct {
	JobID      ids.JobID       `json:"job_id"`
	Step       string          `json:"step"`
	Reason     string          `json:"reason"`
	DecisionID *ids.DecisionID `json:"decision_id,omitempty"`
}

func (StepWaiting) Kind() Kind { return KindStepWaiting }

// StepCompleted marks the current step Completed.
type StepCompleted struct {
	JobID ids.JobID `json:"job_id"`
	Step  string    `json:"step"`
}

func (StepCompleted) Kind() Kind { return KindStepCompleted }

// StepFailed marks the current step Failed with an error string.
type StepFailed struct {
	JobID ids.JobID `json:"job_id"`
	Step  string    `json:"step"`
	Error string    `json:"error"`
}

func (StepFailed) Kind() Kind { return KindStepFailed }

// ShellExited reports a shell step's completion.
type ShellExited struct {
	JobID    ids.JobID `json:"job_id"`
	Step     string    `json:"step"`
	ExitCode int       `json:"exit_code"`
	Stdout   string    `json:"stdout,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
}

func (ShellExited) Kind() Kind { return KindShellExited }

// AgentWorking reports the agent is actively processing a turn.
type AgentWorking struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentWorking) Kind() Kind { return KindAgentWorking }

// AgentWaiting reports the agent is waiting on an external dependency
// (distinct from idle: the agent itself signalled a wait).
type AgentWaiting struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentWaiting) Kind() Kind { return KindAgentWaiting }

// AgentIdle reports the agent finished a turn with no further tool calls
// pending — the natural idle-dispatch trigger.
type AgentIdle struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentIdle) Kind() Kind { return KindAgentIdle }

// AgentPrompt reports a structured question/plan/approval prompt from the
// agent (the escalate path's context source).
type AgentPrompt struct {
	AgentID     ids.AgentID `json:"agent_id"`
	Type        string      `json:"type"`
	Questions   json.RawMessage `json:"questions,omitempty"`
	LastMessage string      `json:"last_message,omitempty"`
}

func (AgentPrompt) Kind() Kind { return KindAgentPrompt }

// AgentStopBlocked reports a cooperative stop-signal block (early idle
// dispatch path).
type AgentStopBlocked struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentStopBlocked) Kind() Kind { return KindAgentStopBlocked }

// AgentStopAllowed reports the agent's natural turn-end (cooperative
// stop-signal path).
type AgentStopAllowed struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentStopAllowed) Kind() Kind { return KindAgentStopAllowed }

// AgentFailed reports a classified agent failure.
type AgentFailed struct {
	AgentID ids.AgentID `json:"agent_id"`
	Error   string      `json:"error"`
}

func (AgentFailed) Kind() Kind { return KindAgentFailed }

// AgentExited reports a clean process exit.
type AgentExited struct {
	AgentID  ids.AgentID `json:"agent_id"`
	ExitCode *int        `json:"exit_code,omitempty"`
}

func (AgentExited) Kind() Kind { return KindAgentExited }

// AgentGone reports the adapter can no longer reach the agent process
// (dead liveness check, or confirmed exit).
type AgentGone struct {
	AgentID  ids.AgentID `json:"agent_id"`
	ExitCode *int        `json:"exit_code,omitempty"`
}

func (AgentGone) Kind() Kind { return KindAgentGone }

// AgentInput delivers free-text input ("nudge") to a live agent.
type AgentInput struct {
	AgentID ids.AgentID `json:"agent_id"`
	Input   string      `json:"input"`
}

func (AgentInput) Kind() Kind { return KindAgentInput }

// AgentRespond delivers a structured response (e.g. a chosen decision
// option) to a live agent.
type AgentRespond struct {
	AgentID  ids.AgentID     `json:"agent_id"`
	Response json.RawMessage `json:"response"`
}

func (AgentRespond) Kind() Kind { return KindAgentRespond }

// AgentSpawned confirms a successful spawn/reconnect.
type AgentSpawned struct {
	AgentID ids.AgentID `json:"agent_id"`
}

func (AgentSpawned) Kind() Kind { return KindAgentSpawned }

// AgentSpawnFailed reports a failed spawn attempt.
type AgentSpawnFailed struct {
	Owner  ids.OwnerID `json:"owner"`
	Reason string      `json:"reason"`
}

func (AgentSpawnFailed) Kind() Kind { return KindAgentSpawnFailed }

// CrewCreated records a new standalone agent invocation.
type CrewCreated struct {
	CrewID      ids.CrewID        `json:"crew_id"`
	AgentName   string            `json:"agent_name"`
	CommandName string            `json:"command_name"`
	Project     string            `json:"project"`
	Cwd         string            `json:"cwd"`
	RunbookHash string            `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`
}

func (CrewCreated) Kind() Kind { return KindCrewCreated }

// CrewStarted binds the spawned agent_id to a crew.
type CrewStarted struct {
	CrewID  ids.CrewID  `json:"crew_id"`
	AgentID ids.AgentID `json:"agent_id"`
}

func (CrewStarted) Kind() Kind { return KindCrewStarted }

// CrewUpdated transitions a crew's status.
type CrewUpdated struct {
	CrewID ids.CrewID `json:"crew_id"`
	Status string     `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

func (CrewUpdated) Kind() Kind { return KindCrewUpdated }

// CrewResume nudges or respawns a crew's agent.
type CrewResume struct {
	CrewID  ids.CrewID `json:"crew_id"`
	Message string     `json:"message,omitempty"`
	Kill    bool       `json:"kill"`
}

func (CrewResume) Kind() Kind { return KindCrewResume }

// CrewDeleted prunes a terminal crew.
type CrewDeleted struct {
	CrewID ids.CrewID `json:"crew_id"`
}

func (CrewDeleted) Kind() Kind { return KindCrewDeleted }

// WorkspaceCreated records a workspace (directory creation is deferred to
// the executor).
type WorkspaceCreated struct {
	WorkspaceID ids.WorkspaceID `json:"workspace_id"`
	Path        string          `json:"path"`
	Branch      string          `json:"branch,omitempty"`
	Owner       ids.OwnerID     `json:"owner"`
	Type        string          `json:"workspace_type"`
}

func (WorkspaceCreated) Kind() Kind { return KindWorkspaceCreated }

// WorkspaceReady reports successful directory/worktree creation.
type WorkspaceReady struct {
	WorkspaceID ids.WorkspaceID `json:"workspace_id"`
}

func (WorkspaceReady) Kind() Kind { return KindWorkspaceReady }

// WorkspaceFailed reports a failed creation attempt.
type WorkspaceFailed struct {
	WorkspaceID ids.WorkspaceID `json:"workspace_id"`
	Reason      string          `json:"reason"`
}

func (WorkspaceFailed) Kind() Kind { return KindWorkspaceFailed }

// WorkspaceDeleted marks a workspace torn down (owner teardown cascade).
type WorkspaceDeleted struct {
	WorkspaceID ids.WorkspaceID `json:"workspace_id"`
}

func (WorkspaceDeleted) Kind() Kind { return KindWorkspaceDeleted }

// WorkspaceDrop requests explicit deletion of a workspace independent of
// its owner's lifecycle.
type WorkspaceDrop struct {
	WorkspaceID ids.WorkspaceID `json:"workspace_id"`
}

func (WorkspaceDrop) Kind() Kind { return KindWorkspaceDrop }

// TimerStart is injected by the Scheduler when a timer expires.
type TimerStart struct {
	ID ids.TimerID `json:"id"`
}

func (TimerStart) Kind() Kind { return KindTimerStart }

// CronStarted re-arms (or arms) a cron's recurring timer.
type CronStarted struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (CronStarted) Kind() Kind { return KindCronStarted }

// CronStopped disarms a cron's timer.
type CronStopped struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (CronStopped) Kind() Kind { return KindCronStopped }

// CronOnce requests a single out-of-cadence fire.
type CronOnce struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (CronOnce) Kind() Kind { return KindCronOnce }

// CronFired reports a cron actually dispatched its run target.
type CronFired struct {
	Scoped ids.ScopedName `json:"scoped"`
	Owner  ids.OwnerID    `json:"owner"`
}

func (CronFired) Kind() Kind { return KindCronFired }

// CronSkipped reports a cron's schedule fired but was skipped because its
// concurrency limit was already saturated.
type CronSkipped struct {
	Scoped ids.ScopedName `json:"scoped"`
	Reason string         `json:"reason"`
}

func (CronSkipped) Kind() Kind { return KindCronSkipped }

// CronDeleted prunes a cron's configuration.
type CronDeleted struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (CronDeleted) Kind() Kind { return KindCronDeleted }

// WorkerStarted arms (or re-arms) a worker's polling loop.
type WorkerStarted struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (WorkerStarted) Kind() Kind { return KindWorkerStarted }

// WorkerWake requests an out-of-cadence poll.
type WorkerWake struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (WorkerWake) Kind() Kind { return KindWorkerWake }

// WorkerPolled reports the list command's candidate items.
type WorkerPolled struct {
	Scoped ids.ScopedName  `json:"scoped"`
	Items  json.RawMessage `json:"items"`
}

func (WorkerPolled) Kind() Kind { return KindWorkerPolled }

// WorkerTook reports the outcome of a take-command invocation for one
// candidate item.
type WorkerTook struct {
	Scoped   ids.ScopedName  `json:"scoped"`
	ItemID   string          `json:"item_id"`
	Item     json.RawMessage `json:"item,omitempty"`
	ExitCode int             `json:"exit_code"`
	Stderr   string          `json:"stderr,omitempty"`
}

func (WorkerTook) Kind() Kind { return KindWorkerTook }

// WorkerDispatched records which owner a taken item was materialized into.
type WorkerDispatched struct {
	Scoped ids.ScopedName `json:"scoped"`
	Owner  ids.OwnerID    `json:"owner"`
	ItemID string         `json:"item_id"`
}

func (WorkerDispatched) Kind() Kind { return KindWorkerDispatched }

// WorkerStopped disarms a worker's polling loop.
type WorkerStopped struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (WorkerStopped) Kind() Kind { return KindWorkerStopped }

// WorkerResized changes a worker's concurrency bound.
type WorkerResized struct {
	Scoped      ids.ScopedName `json:"scoped"`
	Concurrency int            `json:"concurrency"`
}

func (WorkerResized) Kind() Kind { return KindWorkerResized }

// WorkerDeleted prunes a worker's configuration.
type WorkerDeleted struct {
	Scoped ids.ScopedName `json:"scoped"`
}

func (WorkerDeleted) Kind() Kind { return KindWorkerDeleted }

// QueuePushed appends a new item to a persisted queue.
type QueuePushed struct {
	Scoped  ids.ScopedName  `json:"scoped"`
	ItemID  string          `json:"item_id"`
	Payload json.RawMessage `json:"payload"`
}

func (QueuePushed) Kind() Kind { return KindQueuePushed }

// QueueTaken marks an item Active and bound to a worker.
type QueueTaken struct {
	Scoped ids.ScopedName `json:"scoped"`
	ItemID string         `json:"item_id"`
}

func (QueueTaken) Kind() Kind { return KindQueueTaken }

// QueueCompleted marks an item Completed.
type QueueCompleted struct {
	Scoped ids.ScopedName `json:"scoped"`
	ItemID string         `json:"item_id"`
}

func (QueueCompleted) Kind() Kind { return KindQueueCompleted }

// QueueFailed marks a single take/processing attempt as failed (may still
// retry per policy).
type QueueFailed struct {
	Scoped ids.ScopedName `json:"scoped"`
	ItemID string         `json:"item_id"`
	Error  string         `json:"error"`
}

func (QueueFailed) Kind() Kind { return KindQueueFailed }

// QueueDropped removes an item without dead-lettering it.
type QueueDropped struct {
	Scoped ids.ScopedName `json:"scoped"`
	ItemID string         `json:"item_id"`
}

func (QueueDropped) Kind() Kind { return KindQueueDropped }

// QueueRetry returns an item to Pending with an incremented retry counter.
type QueueRetry struct {
	Scoped ids.ScopedName `json:"scoped"`
	ItemID string         `json:"item_id"`
}

func (QueueRetry) Kind() Kind { return KindQueueRetry }

// QueueDead moves an item to Dead after exceeding its retry policy.
type QueueDead struct {
	Scoped ids.ScopedName `json:"scoped"`
	ItemID string         `json:"item_id"`
}

func (QueueDead) Kind() Kind { return KindQueueDead }

// DecisionCreated records a new human-intervention request.
type DecisionCreated struct {
	DecisionID ids.DecisionID  `json:"decision_id"`
	Owner      ids.OwnerID     `json:"owner"`
	AgentID    *ids.AgentID    `json:"agent_id,omitempty"`
	Source     string          `json:"source"`
	Context    string          `json:"context"`
	Options    json.RawMessage `json:"options"`
	Questions  json.RawMessage `json:"questions,omitempty"`
}

func (DecisionCreated) Kind() Kind { return KindDecisionCreated }

// DecisionResolved applies a human choice to a decision record.
type DecisionResolved struct {
	DecisionID  ids.DecisionID `json:"decision_id"`
	Choices     []int          `json:"choices"`
	Message     string         `json:"message,omitempty"`
	ResolvedAtMS int64         `json:"resolved_at_ms"`
	Project     string         `json:"project"`
}

func (DecisionResolved) Kind() Kind { return KindDecisionResolved }

// Custom is the forward-compatibility fallback: any Kind this build does
// not recognize decodes here instead of failing the read.
type Custom struct {
	OriginalKind Kind            `json:"original_kind"`
	Raw          json.RawMessage `json:"raw"`
}

func (Custom) Kind() Kind { return KindCustom }
