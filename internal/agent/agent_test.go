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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/events"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/stretchr/testify/require"
)

// fakeHandle is a minimal, test-controlled Handle.
type fakeHandle struct {
	mu       sync.Mutex
	alive    bool
	exitCode int
	exited   chan struct{}
	sent     []string
	killed   bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{alive: true, exited: make(chan struct{})}
}

func (h *fakeHandle) Send(ctx context.Context, input string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, input)
	return nil
}
func (h *fakeHandle) Respond(ctx context.Context, response any) error { return h.Send(ctx, "") }
func (h *fakeHandle) Kill(ctx context.Context) error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.finish(0)
	return nil
}
func (h *fakeHandle) IsAlive(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}
func (h *fakeHandle) CaptureOutput(lines int) string { return "" }
func (h *fakeHandle) FetchTranscript() string        { return "" }
func (h *fakeHandle) Exited() <-chan struct{}        { return h.exited }
func (h *fakeHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.alive {
		return 0, false
	}
	return h.exitCode, true
}
func (h *fakeHandle) finish(code int) {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return
	}
	h.alive = false
	h.exitCode = code
	h.mu.Unlock()
	close(h.exited)
}

// fakeTransport hands back whatever handle the test pre-registers.
type fakeTransport struct {
	handle Handle
	err    error
}

func (t *fakeTransport) Spawn(ctx context.Context, req effects.SpawnAgent, sessionLogPath, capPath string) (Handle, error) {
	return t.handle, t.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterSpawnRegistersSessionAndEmitsAgentSpawned(t *testing.T) {
	fh := newFakeHandle()
	var got []events.Data
	var mu sync.Mutex
	r := New(discardLogger(), t.TempDir(), &fakeTransport{handle: fh}, nil, nil, func(d events.Data) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})

	agentID, err := r.Spawn(context.Background(), effects.SpawnAgent{Owner: ids.OwnerID{Kind: ids.OwnerKindJob}})
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.IsType(t, events.AgentSpawned{}, got[0])
}

func TestRouterSendAndRespondRouteToHandle(t *testing.T) {
	fh := newFakeHandle()
	r := New(discardLogger(), t.TempDir(), &fakeTransport{handle: fh}, nil, nil, func(events.Data) {})

	agentID, err := r.Spawn(context.Background(), effects.SpawnAgent{})
	require.NoError(t, err)

	require.NoError(t, r.Send(context.Background(), agentID, "hello"))
	require.NoError(t, r.Respond(context.Background(), agentID, map[string]string{"ok": "true"}))

	fh.mu.Lock()
	defer fh.mu.Unlock()
	require.Equal(t, []string{"hello", ""}, fh.sent)
}

func TestRouterKillUnknownAgentIsNoop(t *testing.T) {
	r := New(discardLogger(), t.TempDir(), &fakeTransport{}, nil, nil, func(events.Data) {})
	require.NoError(t, r.Kill(context.Background(), ids.AgentID("agent-does-not-exist")))
}

func TestRouterWatchExitEmitsAgentExitedAndDeregisters(t *testing.T) {
	fh := newFakeHandle()
	var got []events.Data
	var mu sync.Mutex
	r := New(discardLogger(), t.TempDir(), &fakeTransport{handle: fh}, nil, nil, func(d events.Data) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	})

	agentID, err := r.Spawn(context.Background(), effects.SpawnAgent{})
	require.NoError(t, err)

	fh.finish(7)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range got {
			if exited, ok := d.(events.AgentExited); ok {
				return *exited.ExitCode == 7
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	_, ok := r.handle(agentID)
	require.False(t, ok)
}

func TestRouterTransportForPicksContainerRuntime(t *testing.T) {
	local := &fakeTransport{}
	dockerT := &fakeTransport{}
	r := New(discardLogger(), t.TempDir(), local, dockerT, nil, func(events.Data) {})

	require.Same(t, Transport(local), r.transportFor(effects.SpawnAgent{}))
	require.Same(t, Transport(dockerT), r.transportFor(effects.SpawnAgent{Container: &effects.ContainerConfig{Runtime: "docker"}}))
}

func TestRouterSessionLogPathUnknownAgent(t *testing.T) {
	r := New(discardLogger(), t.TempDir(), &fakeTransport{}, nil, nil, func(events.Data) {})
	_, ok := r.SessionLogPath(ids.AgentID("nope"))
	require.False(t, ok)
}
