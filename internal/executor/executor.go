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

// Package executor performs the side effects the runtime hands it:
// spawning and signalling agents, creating and deleting workspaces,
// running shell steps and worker queue commands, arming timers, and
// raising desktop notifications. Every long-running effect is deferred:
// Dispatch starts it in a detached goroutine and the result comes back
// later as an ordinary event on the sink, never as a return value.
package executor

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/oddjobs/oddjobs/internal/tracing"
	oderrors "github.com/oddjobs/oddjobs/pkg/errors"
	"go.opentelemetry.io/otel"
)

// AgentAdapter is the capability-set the executor drives to manage agent
// subprocesses. Local, Docker, and Kubernetes transports each implement
// it; a routing layer (internal/agent) picks one per agent_id at spawn
// time.
type AgentAdapter interface {
	Spawn(ctx context.Context, req effects.SpawnAgent) (ids.AgentID, error)
	Send(ctx context.Context, agentID ids.AgentID, input string) error
	Respond(ctx context.Context, agentID ids.AgentID, response any) error
	Kill(ctx context.Context, agentID ids.AgentID) error
}

// WorkspaceManager creates and tears down the folders/worktrees agents
// run inside.
type WorkspaceManager interface {
	Create(ctx context.Context, req effects.CreateWorkspace) error
	Delete(ctx context.Context, req effects.DeleteWorkspace) error
}

// TimerScheduler arms and disarms the composite timers (liveness,
// exit_deferred, cron) the scheduler later fires as TimerStart events.
type TimerScheduler interface {
	Set(id ids.TimerID, d time.Duration)
	Cancel(id ids.TimerID)
}

// Notifier raises a desktop notification. The default implementation is
// a no-op so headless environments (CI, containers) never fail a
// dispatch over a missing notification daemon.
type Notifier interface {
	Notify(title, message string) error
}

// StepResolver answers "what step is this job currently on?" so the
// executor can bind a freshly spawned agent's id back into StepStarted
// without the engine threading step names through SpawnAgent itself.
// Crew owners need no such lookup: CrewStarted always targets the whole
// crew.
type StepResolver func(owner ids.OwnerID) (step string, ok bool)

// Sink receives every completion event the executor produces. The daemon
// wires this to the same channel the WAL reader and timer scheduler feed,
// so completions are folded into the event loop like any other event.
type Sink func(events.Data)

// Executor performs the side effects the runtime's Handle calls raise.
type Executor struct {
	log       *slog.Logger
	clock     clock.Clock
	agents    AgentAdapter
	workspace WorkspaceManager
	timers    TimerScheduler
	notifier  Notifier
	stepOf    StepResolver
	sink      Sink
	shell     string
	tracer    tracing.Tracer

	running sync.WaitGroup
}

// New builds an Executor. shell is the interpreter used for Shell/queue
// command effects (e.g. "/bin/sh"); notifier may be nil, in which case
// Notify effects are dropped. tracer may be nil, in which case
// the executor falls back to the process-global tracer (a no-op until a
// daemon installs a real provider via tracing.NewProvider).
func New(logger *slog.Logger, clk clock.Clock, agents AgentAdapter, workspace WorkspaceManager, timers TimerScheduler, notifier Notifier, shell string, stepOf StepResolver, sink Sink, tracer tracing.Tracer) *Executor {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if tracer == nil {
		tracer = otel.Tracer("oddjobs/executor")
	}
	return &Executor{
		log: logger, clock: clk, agents: agents, workspace: workspace,
		timers: timers, notifier: notifier, shell: shell, stepOf: stepOf, sink: sink,
		tracer: tracer,
	}
}

// Dispatch performs eff. Short effects (SetTimer, CancelTimer, Emit)
// complete synchronously; everything that touches a subprocess or the
// filesystem is deferred to a goroutine that reports its outcome via the
// sink.
func (x *Executor) Dispatch(ctx context.Context, eff effects.Effect) {
	switch v := eff.(type) {
	case effects.Emit:
		if d, ok := v.Event.(events.Data); ok {
			x.sink(d)
		} else {
			x.log.Warn("executor: Emit effect carried a non-event payload")
		}

	case effects.SetTimer:
		x.timers.Set(v.ID, v.Duration)

	case effects.CancelTimer:
		x.timers.Cancel(v.ID)

	case effects.SpawnAgent:
		x.goDo(func() {
			ctx, span := tracing.StartEffect(ctx, x.tracer, v)
			defer func() { span.End(nil) }()
			x.spawnAgent(ctx, v)
		})

	case effects.SendToAgent:
		x.goDo(func() {
			if err := x.agents.Send(ctx, v.AgentID, v.Input); err != nil {
				x.log.Error("executor: send to agent failed", "agent_id", v.AgentID, logErr(err))
			}
		})

	case effects.RespondToAgent:
		x.goDo(func() {
			if err := x.agents.Respond(ctx, v.AgentID, v.Response); err != nil {
				x.log.Error("executor: respond to agent failed", "agent_id", v.AgentID, logErr(err))
			}
		})

	case effects.KillAgent:
		x.goDo(func() {
			if err := x.agents.Kill(ctx, v.AgentID); err != nil {
				x.log.Error("executor: kill agent failed", "agent_id", v.AgentID, logErr(err))
			}
			// The adapter reports AgentExited through its own event sink once
			// the process is confirmed dead; Dispatch does not synthesize
			// AgentGone or any other event for a kill.
		})

	case effects.CreateWorkspace:
		x.goDo(func() {
			ctx, span := tracing.StartEffect(ctx, x.tracer, v)
			defer func() { span.End(nil) }()
			x.createWorkspace(ctx, v)
		})

	case effects.DeleteWorkspace:
		x.goDo(func() {
			ctx, span := tracing.StartEffect(ctx, x.tracer, v)
			err := x.workspace.Delete(ctx, v)
			span.End(err)
			if err != nil {
				x.log.Error("executor: delete workspace failed", "workspace_id", v.WorkspaceID, logErr(err))
				return
			}
			x.sink(events.WorkspaceDeleted{WorkspaceID: v.WorkspaceID})
		})

	case effects.Shell:
		x.goDo(func() {
			ctx, span := tracing.StartEffect(ctx, x.tracer, v)
			defer func() { span.End(nil) }()
			x.runShell(ctx, v)
		})

	case effects.PollQueue:
		x.goDo(func() {
			ctx, span := tracing.StartEffect(ctx, x.tracer, v)
			defer func() { span.End(nil) }()
			x.pollQueue(ctx, v)
		})

	case effects.TakeQueueItem:
		x.goDo(func() {
			ctx, span := tracing.StartEffect(ctx, x.tracer, v)
			defer func() { span.End(nil) }()
			x.takeQueueItem(ctx, v)
		})

	case effects.Notify:
		x.goDo(func() {
			if err := x.notifier.Notify(v.Title, v.Message); err != nil {
				x.log.Warn("executor: notify failed", logErr(err))
			}
		})

	default:
		x.log.Warn("executor: unrecognized effect type, ignoring")
	}
}

// Wait blocks until every in-flight deferred effect has reported back.
// Used by graceful shutdown so the daemon doesn't exit mid-spawn.
func (x *Executor) Wait() {
	x.running.Wait()
}

func (x *Executor) goDo(fn func()) {
	x.running.Add(1)
	go func() {
		defer x.running.Done()
		fn()
	}()
}

func (x *Executor) spawnAgent(ctx context.Context, req effects.SpawnAgent) {
	agentID, err := x.agents.Spawn(ctx, req)
	if err != nil {
		x.sink(events.AgentSpawnFailed{Owner: req.Owner, Reason: classifySpawnError(err)})
		return
	}

	switch req.Owner.Kind {
	case ids.OwnerKindCrew:
		x.sink(events.CrewStarted{CrewID: req.Owner.Crew, AgentID: agentID})
	case ids.OwnerKindJob:
		step, ok := x.stepOf(req.Owner)
		if !ok {
			x.log.Error("executor: spawned agent for job with no resolvable step", "job_id", req.Owner.Job)
			return
		}
		x.sink(events.StepStarted{JobID: req.Owner.Job, Step: step, AgentID: &agentID, AgentName: req.AgentName})
	}
}

func classifySpawnError(err error) string {
	var agentErr *oderrors.AgentError
	if oderrors.As(err, &agentErr) {
		return agentErr.Message
	}
	return err.Error()
}

func (x *Executor) createWorkspace(ctx context.Context, req effects.CreateWorkspace) {
	if err := x.workspace.Create(ctx, req); err != nil {
		x.sink(events.WorkspaceFailed{WorkspaceID: req.WorkspaceID, Reason: err.Error()})
		return
	}
	x.sink(events.WorkspaceReady{WorkspaceID: req.WorkspaceID})
}

func (x *Executor) runShell(ctx context.Context, req effects.Shell) {
	var jobID ids.JobID
	if req.Owner != nil && req.Owner.Kind == ids.OwnerKindJob {
		jobID = req.Owner.Job
	}

	stdout, stderr, exitCode := x.run(ctx, req.Command, req.Cwd, req.Env)
	x.sink(events.ShellExited{JobID: jobID, Step: req.Step, ExitCode: exitCode, Stdout: stdout, Stderr: stderr})
}

func (x *Executor) pollQueue(ctx context.Context, req effects.PollQueue) {
	stdout, stderr, exitCode := x.run(ctx, req.ListCmd, req.Cwd, nil)
	if exitCode != 0 {
		x.log.Error("executor: queue list command failed", "worker", req.Worker, "exit_code", exitCode, "stderr", stderr)
		return
	}
	x.sink(events.WorkerPolled{Scoped: req.Worker, Items: []byte(stdout)})
}

func (x *Executor) takeQueueItem(ctx context.Context, req effects.TakeQueueItem) {
	env := map[string]string{"ODDJOBS_ITEM_ID": req.ItemID}
	stdout, stderr, exitCode := x.run(ctx, req.TakeCmd, req.Cwd, env)
	x.sink(events.WorkerTook{Scoped: req.Worker, ItemID: req.ItemID, Item: []byte(stdout), ExitCode: exitCode, Stderr: stderr})
}

// run executes command through the configured shell and captures its
// output. A non-zero exit, including one caused by ctx cancellation, is
// reported via the ordinary ExitCode/Stderr channel rather than an error
// return, so every caller folds it into a completion event uniformly.
func (x *Executor) run(ctx context.Context, command, cwd string, env map[string]string) (stdout, stderr string, exitCode int) {
	cmd := exec.CommandContext(ctx, x.shell, "-c", command)
	cmd.Dir = cwd

	if len(env) > 0 {
		cmd.Env = cmd.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	exitCode = 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			errBuf.WriteString(err.Error())
		}
	}
	return outBuf.String(), errBuf.String(), exitCode
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string) error { return nil }

func logErr(err error) slog.Attr { return slog.Any("error", err) }
