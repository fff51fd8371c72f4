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

// Package stream live-tails an agent's session log over a websocket
// connection, backing the control API's follow mode of peek (the
// one-shot CaptureOutput/FetchTranscript calls cover the non-follow case).
package stream

import (
	"bufio"
	"bytes"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddjobs/oddjobs/internal/ids"
)

// pollInterval mirrors the lifecycle monitor's own tail cadence; there's
// no inotify layer here, just a second reader of the same append-only file.
const pollInterval = 250 * time.Millisecond

// PathResolver answers where a live agent's session log lives on disk, or
// false if the agent is unknown or has already exited.
type PathResolver interface {
	SessionLogPath(agentID ids.AgentID) (string, bool)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The control API is a local unix-domain-socket-fronted HTTP server;
	// there's no cross-origin browser client to police here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Streamer upgrades an HTTP request to a websocket and tails one agent's
// session log onto it until the client disconnects or the agent exits.
type Streamer struct {
	log      *slog.Logger
	resolver PathResolver
}

// New builds a Streamer backed by resolver for session log paths.
func New(logger *slog.Logger, resolver PathResolver) *Streamer {
	return &Streamer{log: logger, resolver: resolver}
}

// Handle upgrades the connection and follows agentID's session log, writing
// each new line as its own text frame, starting from tailLines back.
func (s *Streamer) Handle(w http.ResponseWriter, r *http.Request, agentID ids.AgentID, tailLines int) {
	path, ok := s.resolver.SessionLogPath(agentID)
	if !ok {
		http.Error(w, "unknown or exited agent", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("stream: websocket upgrade failed", "agent_id", agentID, "error", err)
		return
	}
	defer conn.Close()

	offset, err := seedOffset(path, tailLines)
	if err != nil {
		s.log.Warn("stream: failed to seed tail offset", "agent_id", agentID, "error", err)
		return
	}

	// A reader goroutine drains client-initiated close/control frames so
	// the write loop notices disconnects promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if _, ok := s.resolver.SessionLogPath(agentID); !ok {
				return
			}
			lines, newOffset, err := readNewLines(path, offset)
			if err != nil {
				return
			}
			offset = newOffset
			for _, line := range lines {
				if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
					return
				}
			}
		}
	}
}

// seedOffset returns the byte offset tailLines lines from the end of path,
// so a freshly connected client sees recent context before live-following.
// tailLines <= 0 means start from the very beginning of the file.
func seedOffset(path string, tailLines int) (int64, error) {
	if tailLines <= 0 {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == '\n' {
			count++
			if count > tailLines {
				return int64(i + 1), nil
			}
		}
	}
	return 0, nil
}

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
