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

package agent

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oddjobs/oddjobs/internal/agent/liveness"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
)

// breadcrumbPath is where a local subprocess's PID is recorded, next to
// its session log, so a daemon restart can find it again. Only the
// local transport writes one — Docker/Kubernetes sessions carry their
// own container-level survivability and aren't reconciled by PID.
func breadcrumbPath(sessionLogPath string) string {
	return sessionLogPath + ".pid"
}

func writeBreadcrumb(sessionLogPath string, pid int32) error {
	return os.WriteFile(breadcrumbPath(sessionLogPath), []byte(strconv.Itoa(int(pid))+"\n"), 0o600)
}

// ReadBreadcrumb returns the PID recorded for an agent's local session,
// if the local transport wrote one at spawn time and it hasn't since
// been cleaned up by a normal exit.
func ReadBreadcrumb(logDir string, agentID ids.AgentID) (int32, bool) {
	data, err := os.ReadFile(breadcrumbPath(SessionLogPath(logDir, agentID)))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int32(pid), true
}

// SessionLogPath returns the path the router writes a given agent's
// session log to, independent of any live Router instance — the
// reconciler needs it before any session is spawned this process
// lifetime.
func SessionLogPath(logDir string, agentID ids.AgentID) string {
	return logDir + "/" + string(agentID) + ".log"
}

// Reattach reconnects lifecycle monitoring to an agent session that
// survived a daemon restart. The PID breadcrumb substitutes for the
// os/exec handle a fresh Spawn would have; the monitor resumes tailing
// the session log from the top, which is safe because it only emits a
// state transition once per change, not once per line.
func (r *Router) Reattach(agentID ids.AgentID, owner ids.OwnerID, pid int32) {
	sessionLogPath := SessionLogPath(r.logDir, agentID)
	capPath := sessionLogPath[:len(sessionLogPath)-len(".log")] + ".cap"

	handle := newReattachedHandle(pid, sessionLogPath, capPath)

	monCtx, cancel := context.WithCancel(context.Background())
	mon := NewMonitor(r.log, agentID, sessionLogPath, func(d events.Data) { r.sink(d) })
	mon.IsAlive = func() bool { return handle.IsAlive(monCtx) }

	r.mu.Lock()
	r.sessions[agentID] = &sessionEntry{handle: handle, owner: owner, monitor: mon, cancel: cancel, sessionLogPath: sessionLogPath}
	r.mu.Unlock()

	go mon.Run(monCtx)
	go r.watchExit(agentID, handle, cancel)
}

// reattachedHandle stands in for a Handle across a daemon restart: there
// is no os/exec.Cmd to Wait() on, so liveness is polled by PID and Kill
// signals the PID directly rather than a process group (the original
// process group leader is this same PID anyway, for a locally-spawned
// agent).
type reattachedHandle struct {
	pid      int32
	liveness *liveness.Checker
	logPath  string
	capPath  string
	exited   chan struct{}
}

func newReattachedHandle(pid int32, sessionLogPath, capPath string) *reattachedHandle {
	h := &reattachedHandle{
		pid:      pid,
		liveness: liveness.New(),
		logPath:  sessionLogPath,
		capPath:  capPath,
		exited:   make(chan struct{}),
	}
	go h.pollExit()
	return h
}

func (h *reattachedHandle) pollExit() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if !h.liveness.IsAlive(h.pid) {
			os.Remove(breadcrumbPath(h.logPath))
			close(h.exited)
			return
		}
	}
}

func (h *reattachedHandle) Send(ctx context.Context, input string) error {
	return fmt.Errorf("agent: reattached session %d has no stdin pipe across the restart", h.pid)
}

func (h *reattachedHandle) Respond(ctx context.Context, response any) error {
	return h.Send(ctx, "")
}

func (h *reattachedHandle) Kill(ctx context.Context) error {
	proc, err := os.FindProcess(int(h.pid))
	if err != nil {
		return nil
	}
	return proc.Signal(syscall.SIGTERM)
}

func (h *reattachedHandle) IsAlive(ctx context.Context) bool {
	return h.liveness.IsAlive(h.pid)
}

func (h *reattachedHandle) CaptureOutput(lines int) string {
	data, err := os.ReadFile(h.capPath)
	if err != nil {
		return ""
	}
	return tailLines(data, lines)
}

func (h *reattachedHandle) FetchTranscript() string {
	data, err := os.ReadFile(h.logPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// ExitCode is never known for a reattached session: this process never
// ran the original os/exec.Cmd, so there's no ProcessState to read it
// from.
func (h *reattachedHandle) ExitCode() (int, bool) { return 0, false }

func (h *reattachedHandle) Exited() <-chan struct{} { return h.exited }

func tailLines(data []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
