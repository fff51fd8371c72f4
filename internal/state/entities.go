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

// Package state holds the materialized projection of the event log: the
// entity maps every handler reads and the sole idempotent mutator,
// ApplyEvent, that derives them from events.
package state

import (
	"encoding/json"
	"time"

	"github.com/oddjobs/oddjobs/internal/ids"
)

// StepStatus is the tagged variant a job's current step carries.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepWaiting   StepStatus = "waiting"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSuspended StepStatus = "suspended"
)

// Terminal reports whether this status ends the job's step progression.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSuspended:
		return true
	default:
		return false
	}
}

// StepHistoryRecord is one entry in a job's step_history.
type StepHistoryRecord struct {
	Step      string     `json:"step"`
	Outcome   StepStatus `json:"outcome"`
	AgentID   ids.AgentID `json:"agent_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Job is a scripted workflow instance.
type Job struct {
	ID          ids.JobID  `json:"id"`
	Kind        string     `json:"kind"`
	DisplayName string     `json:"display_name"`
	Project     string     `json:"project"`
	Dir         string     `json:"dir"`
	RunbookHash string     `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`

	Step       string     `json:"step"`
	StepStatus StepStatus `json:"step_status"`
	WaitingOn  *ids.DecisionID `json:"waiting_on,omitempty"`

	StepHistory []StepHistoryRecord `json:"step_history"`

	// ActionAttempts is keyed by "<trigger>:<chain_pos>" per the
	// cross-step on_fail recovery bookkeeping invariant.
	ActionAttempts map[string]int `json:"action_attempts"`
	StepVisits     map[string]int `json:"step_visits"`
	TotalRetries   int            `json:"total_retries"`

	Failing    bool `json:"failing"`
	Cancelling bool `json:"cancelling"`
	Suspending bool `json:"suspending"`

	LastNudgeAt time.Time        `json:"last_nudge_at,omitempty"`
	WorkspaceID *ids.WorkspaceID `json:"workspace_id,omitempty"`
	CronName    string           `json:"cron_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the job's current step is in a terminal
// status: done (StepCompleted at the final step), failed, cancelled
// (modeled as StepFailed with Cancelling set historically), or suspended.
func (j *Job) Terminal() bool {
	return j.Step == "done" || j.StepStatus == StepFailed || j.StepStatus == StepSuspended
}

// CrewStatus is the tagged variant a crew's lifecycle carries.
type CrewStatus string

const (
	CrewPending   CrewStatus = "pending"
	CrewRunning   CrewStatus = "running"
	CrewWaiting   CrewStatus = "waiting"
	CrewEscalated CrewStatus = "escalated"
	CrewCompleted CrewStatus = "completed"
	CrewFailed    CrewStatus = "failed"
	CrewCancelled CrewStatus = "cancelled"
)

// Terminal reports whether this crew status ends the crew's lifecycle.
func (s CrewStatus) Terminal() bool {
	switch s {
	case CrewCompleted, CrewFailed, CrewCancelled:
		return true
	default:
		return false
	}
}

// Crew is a standalone one-shot agent invocation with no step graph.
type Crew struct {
	ID          ids.CrewID        `json:"id"`
	AgentName   string            `json:"agent_name"`
	CommandName string            `json:"command_name"`
	Project     string            `json:"project"`
	Cwd         string            `json:"cwd"`
	RunbookHash string            `json:"runbook_hash"`
	Vars        map[string]string `json:"vars"`

	AgentID     *ids.AgentID `json:"agent_id,omitempty"`
	Status      CrewStatus   `json:"status"`
	LastNudgeAt time.Time    `json:"last_nudge_at,omitempty"`
	Error       string       `json:"error,omitempty"`

	// ActionAttempts counts chained on_idle attempts by (trigger,
	// chain_position) key, mirroring Job.ActionAttempts.
	ActionAttempts map[string]int `json:"action_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AgentRuntimeKind names the transport an agent session is routed through.
type AgentRuntimeKind string

const (
	AgentRuntimeLocal  AgentRuntimeKind = "local"
	AgentRuntimeDocker AgentRuntimeKind = "docker"
	AgentRuntimeK8s    AgentRuntimeKind = "k8s"
)

// AgentStatus is the tagged variant an agent record's lifecycle carries.
type AgentStatus string

const (
	AgentStarting AgentStatus = "starting"
	AgentRunning  AgentStatus = "running"
	AgentIdleSt   AgentStatus = "idle"
	AgentExitedSt AgentStatus = "exited"
	AgentGoneSt   AgentStatus = "gone"
)

// AgentRecord exists independent of the owner's step_history for direct
// lookup by agent_id.
type AgentRecord struct {
	ID            ids.AgentID      `json:"id"`
	Name          string           `json:"name"`
	Owner         ids.OwnerID      `json:"owner"`
	Project       string           `json:"project"`
	WorkspacePath string           `json:"workspace_path"`
	Runtime       AgentRuntimeKind `json:"runtime"`
	AuthToken     string           `json:"auth_token,omitempty"`
	Status        AgentStatus      `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// WorkspaceType discriminates a plain directory from a git worktree.
type WorkspaceType string

const (
	WorkspaceFolder   WorkspaceType = "folder"
	WorkspaceWorktree WorkspaceType = "worktree"
)

// WorkspaceStatus is the tagged variant a workspace's lifecycle carries.
type WorkspaceStatus string

const (
	WorkspacePending WorkspaceStatus = "pending"
	WorkspaceReadySt WorkspaceStatus = "ready"
	WorkspaceFailedSt WorkspaceStatus = "failed"
	WorkspaceDeletedSt WorkspaceStatus = "deleted"
)

// Workspace is a folder or git worktree owned by a job or crew.
type Workspace struct {
	ID        ids.WorkspaceID `json:"id"`
	Path      string          `json:"path"`
	Branch    string          `json:"branch,omitempty"`
	Owner     ids.OwnerID     `json:"owner"`
	Status    WorkspaceStatus `json:"status"`
	FailReason string         `json:"fail_reason,omitempty"`
	Type      WorkspaceType   `json:"workspace_type"`
	CreatedAt time.Time       `json:"created_at"`
}

// WorkerStatus is the tagged variant a worker's lifecycle carries.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "running"
	WorkerStoppedSt WorkerStatus = "stopped"
)

// Worker is the static configuration and live dispatch state for a queue
// consumer referenced from the runbook.
type Worker struct {
	Name        ids.ScopedName `json:"name"`
	Project     string         `json:"project"`
	Queue       string         `json:"queue"`
	RunbookHash string         `json:"runbook_hash"`
	Concurrency int            `json:"concurrency"`
	Path        string         `json:"path"`
	Status      WorkerStatus   `json:"status"`
	ActiveJobs  []ids.OwnerID  `json:"active_jobs"`
	// Owners maps a queue item ID to the owner materialized for it.
	Owners map[string]ids.OwnerID `json:"owners"`
	// TakeAttempts counts failed take attempts for externally-sourced
	// (list/take command-backed) items that never go through a QueuePushed
	// record, so their retry policy can still be enforced.
	TakeAttempts map[string]int `json:"take_attempts,omitempty"`
}

// CronRunTargetKind discriminates what a cron dispatches.
type CronRunTargetKind string

const (
	CronTargetJob   CronRunTargetKind = "job"
	CronTargetAgent CronRunTargetKind = "agent"
	CronTargetShell CronRunTargetKind = "shell"
)

// CronRunTarget is Job(kind) | Agent(name) | Shell(cmd).
type CronRunTarget struct {
	Kind CronRunTargetKind `json:"kind"`
	Name string            `json:"name,omitempty"`
}

// CronStatus is the tagged variant a cron's arm state carries.
type CronStatus string

const (
	CronRunningSt CronStatus = "running"
	CronStoppedSt CronStatus = "stopped"
)

// Cron is a periodic trigger configuration.
type Cron struct {
	Name        ids.ScopedName `json:"name"`
	Project     string         `json:"project"`
	ProjectPath string         `json:"project_path"`
	Interval    time.Duration  `json:"interval"`
	Target      CronRunTarget  `json:"target"`
	Concurrency int            `json:"concurrency"`
	RunbookHash string         `json:"runbook_hash"`
	Status      CronStatus     `json:"status"`
}

// QueueItemStatus is the tagged variant a queue item's lifecycle carries.
type QueueItemStatus string

const (
	QueueItemPending   QueueItemStatus = "pending"
	QueueItemActive    QueueItemStatus = "active"
	QueueItemCompleted QueueItemStatus = "completed"
	QueueItemDead      QueueItemStatus = "dead"
	QueueItemFailed    QueueItemStatus = "failed"
	QueueItemRetry     QueueItemStatus = "retry"
)

// QueueItem is a single piece of work pushed onto a persisted queue.
type QueueItem struct {
	ID        string          `json:"id"`
	Queue     ids.ScopedName  `json:"queue"`
	Project   string          `json:"project"`
	Payload   json.RawMessage `json:"payload"`
	Status    QueueItemStatus `json:"status"`
	Retries   int             `json:"retries"`
	PushedAt  time.Time       `json:"pushed_at"`
	TakenAt   time.Time       `json:"taken_at,omitempty"`
}

// DecisionSource names what kind of escalation produced a Decision.
type DecisionSource string

const (
	DecisionSourceIdle     DecisionSource = "Idle"
	DecisionSourceDead     DecisionSource = "Dead"
	DecisionSourceError    DecisionSource = "Error"
	DecisionSourceGate     DecisionSource = "Gate"
	DecisionSourceApproval DecisionSource = "Approval"
	DecisionSourceQuestion DecisionSource = "Question"
	DecisionSourcePlan     DecisionSource = "Plan"
)

// DecisionOption is one choice presented to the human for a decision.
type DecisionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}

// QuestionData is the optional structured payload an agent's Question
// prompt carries, validated against a JSON schema before storage.
type QuestionData struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decision is a human-intervention record.
type Decision struct {
	ID         ids.DecisionID   `json:"id"`
	Owner      ids.OwnerID      `json:"owner"`
	Project    string           `json:"project"`
	Source     DecisionSource   `json:"source"`
	Context    string           `json:"context"`
	Options    []DecisionOption `json:"options"`
	Questions  *QuestionData    `json:"questions,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt time.Time        `json:"resolved_at,omitempty"`
	Choices    []int            `json:"choices,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Resolved reports whether a human has chosen an option.
func (d *Decision) Resolved() bool { return !d.ResolvedAt.IsZero() }

// StoredRunbook is content-addressed by the hash of its parsed JSON
// representation, so repeated starts of the same runbook share one copy.
type StoredRunbook struct {
	Hash    string `json:"hash"`
	Version string `json:"version"`
	JSON    string `json:"json"`
}
