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

// Package agent implements the daemon's side of the agent adapter and
// lifecycle monitor (spec §4.4): it supervises agent subprocesses and
// translates their append-only session log into the clean AgentWorking/
// AgentWaiting/AgentIdle/AgentFailed/AgentExited event sequence the
// engine reacts to. Local subprocesses are always available; container-
// routed agents go through internal/agent/docker or internal/agent/k8s
// behind the same Transport seam.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
)

// Handle is one live agent session, however it's routed. The local
// subprocess, Docker, and Kubernetes transports each return their own
// implementation from Spawn.
type Handle interface {
	Send(ctx context.Context, input string) error
	Respond(ctx context.Context, response any) error
	Kill(ctx context.Context) error
	IsAlive(ctx context.Context) bool
	CaptureOutput(lines int) string
	FetchTranscript() string
	Exited() <-chan struct{}
	ExitCode() (int, bool)
}

// Transport spawns an agent session and hands back a Handle to it.
// sessionLogPath is where the agent's turn-by-turn records land (read by
// the Monitor); capPath is the raw terminal capture peek reads.
type Transport interface {
	Spawn(ctx context.Context, req effects.SpawnAgent, sessionLogPath, capPath string) (Handle, error)
}

// Sink receives the events the lifecycle monitor derives from session-log
// changes and process exits.
type Sink func(events.Data)

// Router is the executor's AgentAdapter: it routes a spawn request to the
// right Transport by container configuration, keeps a registry of live
// sessions, and starts one Monitor per session.
type Router struct {
	log    *slog.Logger
	logDir string // base dir for logs/agents/<id>.{log,cap}
	sink   Sink

	local  Transport
	docker Transport // nil if no Docker transport is wired
	k8s    Transport // nil if no Kubernetes transport is wired

	mu       sync.Mutex
	sessions map[ids.AgentID]*sessionEntry
}

type sessionEntry struct {
	handle         Handle
	owner          ids.OwnerID
	monitor        *Monitor
	cancel         context.CancelFunc
	sessionLogPath string
}

// New builds a Router. logDir is the daemon's logs/agents directory.
func New(logger *slog.Logger, logDir string, local, docker, k8s Transport, sink Sink) *Router {
	return &Router{
		log: logger, logDir: logDir, sink: sink,
		local: local, docker: docker, k8s: k8s,
		sessions: make(map[ids.AgentID]*sessionEntry),
	}
}

// Spawn implements internal/executor's AgentAdapter.
func (r *Router) Spawn(ctx context.Context, req effects.SpawnAgent) (ids.AgentID, error) {
	agentID := ids.NewAgentID()

	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return "", fmt.Errorf("agent: create log dir: %w", err)
	}
	sessionLogPath := filepath.Join(r.logDir, string(agentID)+".log")
	capPath := filepath.Join(r.logDir, string(agentID)+".cap")

	transport := r.transportFor(req)
	if transport == nil {
		return "", fmt.Errorf("agent: no transport available for container runtime %q", containerRuntime(req))
	}

	handle, err := transport.Spawn(ctx, req, sessionLogPath, capPath)
	if err != nil {
		return "", err
	}

	monCtx, cancel := context.WithCancel(context.Background())
	mon := NewMonitor(r.log, agentID, sessionLogPath, func(d events.Data) { r.sink(d) })
	mon.IsAlive = func() bool { return handle.IsAlive(monCtx) }

	r.mu.Lock()
	r.sessions[agentID] = &sessionEntry{handle: handle, owner: req.Owner, monitor: mon, cancel: cancel, sessionLogPath: sessionLogPath}
	r.mu.Unlock()

	go mon.Run(monCtx)
	go r.watchExit(agentID, handle, cancel)

	r.sink(events.AgentSpawned{AgentID: agentID})
	return agentID, nil
}

func (r *Router) watchExit(agentID ids.AgentID, handle Handle, cancel context.CancelFunc) {
	<-handle.Exited()
	cancel()
	code, _ := handle.ExitCode()
	r.sink(events.AgentExited{AgentID: agentID, ExitCode: &code})

	r.mu.Lock()
	delete(r.sessions, agentID)
	r.mu.Unlock()
}

func (r *Router) transportFor(req effects.SpawnAgent) Transport {
	if req.Container == nil {
		return r.local
	}
	switch req.Container.Runtime {
	case "docker":
		return r.docker
	case "k8s":
		return r.k8s
	default:
		return r.local
	}
}

func containerRuntime(req effects.SpawnAgent) string {
	if req.Container == nil {
		return "local"
	}
	return req.Container.Runtime
}

// Send implements internal/executor's AgentAdapter.
func (r *Router) Send(ctx context.Context, agentID ids.AgentID, input string) error {
	h, ok := r.handle(agentID)
	if !ok {
		return fmt.Errorf("agent: unknown session %s", agentID)
	}
	return h.Send(ctx, input)
}

// Respond implements internal/executor's AgentAdapter.
func (r *Router) Respond(ctx context.Context, agentID ids.AgentID, response any) error {
	h, ok := r.handle(agentID)
	if !ok {
		return fmt.Errorf("agent: unknown session %s", agentID)
	}
	return h.Respond(ctx, response)
}

// Kill implements internal/executor's AgentAdapter.
func (r *Router) Kill(ctx context.Context, agentID ids.AgentID) error {
	h, ok := r.handle(agentID)
	if !ok {
		return nil // already gone
	}
	return h.Kill(ctx)
}

// IsAlive answers the Reconciler's AgentChecker interface and the CLI's
// Query surface.
func (r *Router) IsAlive(ctx context.Context, agentID ids.AgentID) bool {
	h, ok := r.handle(agentID)
	if !ok {
		return false
	}
	return h.IsAlive(ctx)
}

// ResolveStop releases an agent blocked on a cooperative stop signal by
// nudging it with an empty input; clients that use stop:blocked treat any
// further stdin write as the release signal.
func (r *Router) ResolveStop(ctx context.Context, agentID ids.AgentID) error {
	return r.Send(ctx, agentID, "")
}

// CaptureOutput returns the last N lines of an agent's terminal capture.
func (r *Router) CaptureOutput(agentID ids.AgentID, lines int) string {
	h, ok := r.handle(agentID)
	if !ok {
		return ""
	}
	return h.CaptureOutput(lines)
}

// FetchTranscript returns an agent's full session log.
func (r *Router) FetchTranscript(agentID ids.AgentID) string {
	h, ok := r.handle(agentID)
	if !ok {
		return ""
	}
	return h.FetchTranscript()
}

// SessionLogPath implements internal/agent/stream's PathResolver.
func (r *Router) SessionLogPath(agentID ids.AgentID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[agentID]
	if !ok {
		return "", false
	}
	return entry.sessionLogPath, true
}

func (r *Router) handle(agentID ids.AgentID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[agentID]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}
