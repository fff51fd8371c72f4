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
	"log/slog"
	"time"

	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/runbook"
	"github.com/oddjobs/oddjobs/internal/state"
)

// testAt is the fixed timestamp every applyAllAt-folded event is stamped
// with; ordering comes entirely from Seq, so a shared instant keeps
// fixtures terse without losing replay-order semantics.
var testAt = time.Unix(1700000000, 0).UTC()

// applyAllAt folds each payload into ms via state.ApplyEvent in order,
// assigning a monotonically increasing Seq starting just after whatever
// ms has already folded in.
func applyAllAt(ms *state.MaterializedState, data ...events.Data) {
	for _, d := range data {
		state.ApplyEvent(ms, events.Event{Seq: ms.Seq + 1, At: testAt, Data: d})
	}
}

// testRunbookHash is the content hash every helper-built runbook is stored
// under, so tests can reference it without threading Hash() calls through
// every fixture.
const testRunbookHash = "test-runbook-hash"

// newTestRunbook builds one runbook fixture shared across engine tests: a
// "deploy" job with a shell step that advances into an agent repair step on
// failure, a "triager" command that runs a standalone agent, a "ping" bare
// shell command, an "ingest" worker, and a "nightly" cron.
func newTestRunbook() runbook.Runbook {
	return runbook.Runbook{
		Hash:    testRunbookHash,
		Version: "1",
		Project: "proj",
		Commands: map[string]runbook.Command{
			"deploy": {Name: "deploy", Run: runbook.RunDirective{Kind: runbook.RunJob, JobKind: "deploy"}},
			"triage": {Name: "triage", Run: runbook.RunDirective{Kind: runbook.RunAgent, AgentName: "triager"}},
			"ping":   {Name: "ping", Run: runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: "echo hi"}},
		},
		Jobs: map[string]runbook.JobDef{
			"deploy": {
				Kind:  "deploy",
				Start: "build",
				Steps: map[string]runbook.StepDef{
					"build": {
						Name:   "build",
						Run:    runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: "go build ./..."},
						OnDone: &runbook.Transition{Step: "test"},
					},
					"test": {
						Name:   "test",
						Run:    runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: "go test ./..."},
						OnFail: &runbook.Transition{Step: "repair"},
					},
					"repair": {
						Name: "repair",
						Run:  runbook.RunDirective{Kind: runbook.RunAgent, AgentName: "fixer"},
						OnIdle: runbook.OnIdleConfig{
							Action:   runbook.OnIdleDone,
							Attempts: 1,
						},
					},
				},
			},
			"deploy-ws": {
				Kind:  "deploy-ws",
				Start: "build",
				Steps: map[string]runbook.StepDef{
					"build": {
						Name: "build",
						Run:  runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: "go build ./..."},
					},
				},
				Workspace: &runbook.WorkspaceDecl{Type: "worktree", RepoRoot: "/repo", Branch: "work"},
			},
			"process-item": {
				Kind:  "process-item",
				Start: "handle",
				Steps: map[string]runbook.StepDef{
					"handle": {
						Name: "handle",
						Run:  runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: "process ${invoke.dir}"},
					},
				},
			},
		},
		Agents: map[string]runbook.AgentDef{
			"triager": {
				Name:    "triager",
				Command: "triage-cmd",
				OnIdle:  runbook.OnIdleConfig{Action: runbook.OnIdleEscalate},
			},
			"fixer": {
				Name:    "fixer",
				Command: "fix-cmd",
				OnIdle:  runbook.OnIdleConfig{Action: runbook.OnIdleDone, Attempts: 1},
			},
			"nudger": {
				Name:    "nudger",
				Command: "nudge-cmd",
				OnIdle: runbook.OnIdleConfig{
					Action:   runbook.OnIdleNudge,
					Message:  "keep going",
					Attempts: 2,
					Cooldown: 10 * time.Second,
				},
			},
		},
		Workers: map[string]runbook.WorkerDef{
			"ingest": {
				Queue:       "items",
				Concurrency: 2,
				ListCmd:     "list-items",
				TakeCmd:     "take-item",
				Target:      runbook.RunDirective{Kind: runbook.RunJob, JobKind: "process-item"},
			},
		},
		Queues: map[string]runbook.QueueDef{
			"items": {Retry: runbook.RetryPolicy{Attempts: 2, Cooldown: 5 * time.Second}},
		},
		Crons: map[string]runbook.CronDef{
			"nightly": {
				Interval:    time.Hour,
				Target:      runbook.RunDirective{Kind: runbook.RunShell, ShellCmd: "echo nightly"},
				Concurrency: 1,
			},
		},
	}
}

// newTestEngine returns an Engine wired to a cache holding newTestRunbook
// and a fake clock pinned at a fixed instant, plus the clock itself so
// tests can advance it.
func newTestEngine() (*Engine, *clock.Fake) {
	cache := runbook.NewCache()
	cache.Store(newTestRunbook())
	fake := clock.NewFake(time.Unix(1700000000, 0).UTC())
	eng := New(cache, fake, slog.New(slog.NewTextHandler(nopWriter{}, nil)))
	return eng, fake
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
