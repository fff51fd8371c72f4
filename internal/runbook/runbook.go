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

// Package runbook represents the parsed, content-hashed configuration the
// engine consumes: commands, job step graphs, agent definitions, workers,
// crons, and queues. Parsing runbook source files into this shape is an
// external collaborator; this package only defines the shape and the
// content-addressed cache the engine reads from.
package runbook

import "time"

// RunKind discriminates what a command, step, or cron target dispatches.
type RunKind string

const (
	RunJob   RunKind = "job"
	RunAgent RunKind = "agent"
	RunShell RunKind = "shell"
)

// RunDirective is Job{kind} | Agent{name, ...} | Shell{cmd}.
type RunDirective struct {
	Kind      RunKind
	JobKind   string
	AgentName string
	ShellCmd  string
}

// Transition names the next step a step definition advances to.
type Transition struct {
	Step string
}

// OnIdleAction is the tagged variant an agent step's idle-dispatch config
// carries: nudge | done | fail | resume | escalate | gate | auto.
type OnIdleAction string

const (
	OnIdleNudge    OnIdleAction = "nudge"
	OnIdleDone     OnIdleAction = "done"
	OnIdleFail     OnIdleAction = "fail"
	OnIdleResume   OnIdleAction = "resume"
	OnIdleEscalate OnIdleAction = "escalate"
	OnIdleGate     OnIdleAction = "gate"
	OnIdleAuto     OnIdleAction = "auto"
)

// OnIdleConfig configures what happens when an agent goes idle (or its
// stop-blocked/allowed signal fires).
type OnIdleConfig struct {
	Action   OnIdleAction
	Message  string        // nudge text, or fail message
	GateCmd  string        // shell command for Action == gate
	Attempts int           // chain length before the terminal action fires; 0/1 means immediate
	Cooldown time.Duration // delay between chained attempts
}

// WorkspaceDecl is a job or crew's optional workspace requirement.
type WorkspaceDecl struct {
	Type       string // "folder" | "worktree"
	RepoRoot   string
	Branch     string
	StartPoint string
}

// StepDef is one node in a job's step graph.
type StepDef struct {
	Name    string
	Run     RunDirective
	OnDone  *Transition
	OnFail  *Transition
	OnIdle  OnIdleConfig // only meaningful when Run.Kind == RunAgent
	AgentID string       // name of the AgentDef this step's agent run binds, if any
}

// JobDef is a runbook job: a named step graph with an entry point.
type JobDef struct {
	Kind      string
	Start     string
	Steps     map[string]StepDef
	Workspace *WorkspaceDecl
}

// AgentDef is a named, reusable agent invocation template.
type AgentDef struct {
	Name    string
	Command string
	Env     map[string]string
	Unset   []string
	OnIdle  OnIdleConfig
	Prime   []string   // shell commands run before the agent process starts
	Stop    StopPolicy // how to intercept the agent's natural turn-end
}

// StopPolicy configures how the adapter intercepts an agent's natural
// turn-end. Mode "cooperative" expects the agent client to emit its own
// stop:blocked/stop:allowed signal into the session log and blocks the
// client's process until resolve_stop releases it; mode "" (the default)
// relies entirely on the text/tool_use heuristic in the session log.
type StopPolicy struct {
	Mode string
}

// WorkerDef configures a queue consumer.
type WorkerDef struct {
	Queue       string
	Concurrency int
	ListCmd     string
	TakeCmd     string
	Target      RunDirective
}

// RetryPolicy bounds how many times a queue item is retried before it is
// moved to Dead.
type RetryPolicy struct {
	Attempts int
	Cooldown time.Duration
}

// QueueDef configures a persisted or external queue's retry behavior.
type QueueDef struct {
	Retry RetryPolicy
}

// CronDef configures a periodic trigger.
type CronDef struct {
	Interval    time.Duration
	Target      RunDirective
	Concurrency int
}

// Command is a named, directly-invokable entry point (what CommandRun
// resolves against).
type Command struct {
	Name string
	Run  RunDirective
}

// Runbook is the full parsed configuration for one project.
type Runbook struct {
	Hash     string
	Version  string
	JSON     string
	Project  string
	Commands map[string]Command
	Jobs     map[string]JobDef
	Agents   map[string]AgentDef
	Workers  map[string]WorkerDef
	Crons    map[string]CronDef
	Queues   map[string]QueueDef
}

// MaxStepVisits bounds how many times a single step name may be re-entered
// by one job before the engine fails it with a step-loop error. Kept at
// the low end of the spec's suggested 3-20 range. It is a constant; no
// configuration setting overrides it.
const MaxStepVisits = 8
