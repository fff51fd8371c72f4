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

// Package effects defines the taxonomy the runtime hands to the executor.
// Every long-running effect is deferred: the executor starts it in a
// detached goroutine and the engine learns the outcome later as an
// ordinary event on the same bus.
package effects

import (
	"time"

	"github.com/oddjobs/oddjobs/internal/ids"
)

// Effect is implemented by every concrete side-effect request.
type Effect interface {
	effect()
}

// Emit asks the executor to push an event directly onto the bus, bypassing
// any subprocess or I/O (used for synthetic follow-ups the runtime wants
// persisted without further work).
type Emit struct {
	Event any
}

func (Emit) effect() {}

// ContainerConfig carries the subset of container configuration an agent
// spawn needs when routed through the Docker or Kubernetes transport.
type ContainerConfig struct {
	Image   string
	Runtime string // "docker" | "k8s"
}

// SpawnAgent starts a new agent subprocess (or reconnects, if Resume is
// set and a session log already exists at WorkspacePath).
type SpawnAgent struct {
	Owner         ids.OwnerID
	AgentName     string
	WorkspacePath string
	Cwd           string
	Command       string
	Env           map[string]string
	Unset         []string
	Resume        bool
	Container     *ContainerConfig

	// OnIdleAction/OnIdleMessage/OnIdleGateCmd carry the effective
	// idle-dispatch config the adapter writes into the agent config file
	// it drops alongside the session log, so a cooperative agent client
	// can read its own escalation policy rather than guess at it. The
	// engine remains the sole authority that actually *acts* on idle —
	// this is read-only context for the child process.
	OnIdleAction  string
	OnIdleMessage string
	OnIdleGateCmd string

	// Prime is an optional sequence of shell commands run to completion,
	// in cwd, before the agent process itself starts.
	Prime []string

	// StopMode is "" (heuristic) or "cooperative" (the agent client
	// emits its own stop:blocked/stop:allowed signal).
	StopMode string
}

func (SpawnAgent) effect() {}

// SendToAgent delivers free-text input to a live agent (a nudge).
type SendToAgent struct {
	AgentID ids.AgentID
	Input   string
}

func (SendToAgent) effect() {}

// RespondToAgent delivers a structured response (e.g. a resolved
// decision) to a live agent.
type RespondToAgent struct {
	AgentID  ids.AgentID
	Response any
}

func (RespondToAgent) effect() {}

// KillAgent signals the agent process tree (SIGTERM then SIGKILL after a
// grace period). Fire-and-forget: the engine does not block on
// confirmation, it waits for the adapter's AgentExited event.
type KillAgent struct {
	AgentID ids.AgentID
}

func (KillAgent) effect() {}

// CreateWorkspace requests directory or worktree creation.
type CreateWorkspace struct {
	WorkspaceID ids.WorkspaceID
	Path        string
	Owner       ids.OwnerID
	Type        string // "folder" | "worktree"
	RepoRoot    string
	Branch      string
	StartPoint  string
}

func (CreateWorkspace) effect() {}

// DeleteWorkspace requests directory/worktree teardown.
type DeleteWorkspace struct {
	WorkspaceID ids.WorkspaceID
	Path        string
}

func (DeleteWorkspace) effect() {}

// SetTimer arms (replacing any prior timer under the same ID) a future
// TimerStart event.
type SetTimer struct {
	ID       ids.TimerID
	Duration time.Duration
}

func (SetTimer) effect() {}

// CancelTimer removes a pending timer. Already-fired timers are not
// "uncancelled".
type CancelTimer struct {
	ID ids.TimerID
}

func (CancelTimer) effect() {}

// Shell runs an embedded POSIX-shell step. The interpreter itself is an
// external collaborator (spec Non-goals); the executor only owns process
// lifecycle and piping stdout/stderr back as a ShellExited event.
type Shell struct {
	Owner   *ids.OwnerID
	Step    string
	Command string
	Cwd     string
	Env     map[string]string
	Container *ContainerConfig
}

func (Shell) effect() {}

// PollQueue runs a worker's list command and reports candidates as a
// WorkerPolled event.
type PollQueue struct {
	Worker  ids.ScopedName
	Project string
	ListCmd string
	Cwd     string
}

func (PollQueue) effect() {}

// TakeQueueItem runs a worker's take command for one candidate item.
type TakeQueueItem struct {
	Worker  ids.ScopedName
	Project string
	TakeCmd string
	Cwd     string
	ItemID  string
}

func (TakeQueueItem) effect() {}

// Notify raises a desktop notification (escalation, done, failure).
type Notify struct {
	Title   string
	Message string
}

func (Notify) effect() {}
