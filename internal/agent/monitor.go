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
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
)

// pollInterval is how often the monitor re-reads an agent's session log
// for new lines. The file is typically tiny (one JSON record per turn),
// so polling is simpler and cheap enough compared to an fsnotify watch
// per agent; fsnotify is reserved for the (many-fewer) runbook files in
// internal/runbookwatch.
const pollInterval = 250 * time.Millisecond

// Monitor tails one agent's session log and turns state changes into
// AgentWorking/AgentWaiting/AgentIdle/AgentFailed/AgentStopBlocked/
// AgentStopAllowed events. It never emits the same classification twice
// in a row — only transitions matter to the engine.
type Monitor struct {
	log     *slog.Logger
	agentID ids.AgentID
	path    string
	sink    Sink

	// IsAlive lets the monitor defer an idle classification to the exit
	// path when a print-mode agent exits in the same instant it goes
	// quiet (spec's "print-mode exit race"). Nil means always alive,
	// used by tests that don't care about the race.
	IsAlive func() bool
}

// NewMonitor builds a Monitor for one agent's session log at path.
func NewMonitor(logger *slog.Logger, agentID ids.AgentID, path string, sink Sink) *Monitor {
	return &Monitor{log: logger, agentID: agentID, path: path, sink: sink}
}

// Run polls the session log until ctx is cancelled (normally when the
// agent process exits and Router.watchExit tears the monitor down).
func (m *Monitor) Run(ctx context.Context) {
	var offset int64
	var last SessionState = StateWorking
	haveLast := false

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lines, newOffset, err := readNewLines(m.path, offset)
			if err != nil {
				// Unreadable/missing file: conservative, stay Working,
				// don't escalate on transient FS lag.
				continue
			}
			offset = newOffset
			for _, line := range lines {
				state, errMsg, warn, ok := ClassifyLine(line)
				if !ok {
					continue
				}
				if warn != "" {
					m.log.Warn("agent monitor: unrecognized session-log record", "agent_id", m.agentID, "warning", warn)
				}
				if haveLast && state == last {
					continue
				}
				haveLast = true
				last = state
				m.emit(state, errMsg)
			}
		}
	}
}

func (m *Monitor) emit(state SessionState, errMsg string) {
	switch state {
	case StateWorking:
		m.sink(events.AgentWorking{AgentID: m.agentID})
	case StateWaitingForInput:
		if !m.aliveOrDeferred() {
			return
		}
		m.sink(events.AgentIdle{AgentID: m.agentID})
	case StateFailed:
		m.sink(events.AgentFailed{AgentID: m.agentID, Error: errMsg})
	case StateStopBlocked:
		m.sink(events.AgentStopBlocked{AgentID: m.agentID})
	case StateStopAllowed:
		if !m.aliveOrDeferred() {
			return
		}
		m.sink(events.AgentStopAllowed{AgentID: m.agentID})
	}
}

// aliveOrDeferred implements the print-mode exit race guard: a
// single-response agent can register as idle an instant before its
// process exits, and the exit path (AgentExited/AgentGone) already
// covers that terminal transition, so the idle dispatch is suppressed
// rather than double-firing.
func (m *Monitor) aliveOrDeferred() bool {
	if m.IsAlive == nil {
		return true
	}
	return m.IsAlive()
}

// readNewLines reads the complete lines appended to path since offset,
// returning the new offset to resume from. A line with no trailing
// newline yet (the writer is mid-write) is left for the next poll.
func readNewLines(path string, offset int64) ([][]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset, err
	}

	var lines [][]byte
	reader := bufio.NewReader(f)
	newOffset := offset
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			newOffset += int64(len(line))
			lines = append(lines, bytes.TrimRight(line, "\n"))
		}
		if err != nil {
			break
		}
	}
	return lines, newOffset, nil
}
