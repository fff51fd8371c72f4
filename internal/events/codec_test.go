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

package events

import (
	"testing"
	"time"

	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip exercises Serialize->Deserialize->Serialize for every
// payload kind the registry knows, asserting the second serialization is
// byte-identical to the first (the property the original implementation's
// protocol property tests check).
func TestRoundTrip(t *testing.T) {
	job := ids.NewJobID()
	agent := ids.NewAgentID()
	owner := ids.NewJobOwner(job)

	samples := []Data{
		Shutdown{},
		RunbookLoaded{Hash: "abc123", Version: "1", JSON: `{"commands":{}}`},
		CommandRun{Owner: owner, Name: "deploy", Project: "infra", Command: "deploy", Args: map[string]string{"env": "prod"}},
		JobCreated{JobID: job, Kind_: "deploy", DisplayName: "Deploy", Project: "infra", RunbookHash: "abc123"},
		JobAdvanced{JobID: job, Step: "plan"},
		JobResume{JobID: job, Kill: true},
		StepStarted{JobID: job, Step: "init", AgentID: &agent},
		StepFailed{JobID: job, Step: "merge", Error: "exit 1"},
		ShellExited{JobID: job, Step: "init", ExitCode: 0, Stdout: "ok"},
		AgentIdle{AgentID: agent},
		AgentFailed{AgentID: agent, Error: "rate limited"},
		AgentGone{AgentID: agent},
		CrewCreated{CrewID: ids.NewCrewID(), AgentName: "claude", Project: "infra"},
		WorkspaceCreated{WorkspaceID: ids.NewWorkspaceID(), Path: "/tmp/ws", Owner: owner, Type: "worktree"},
		TimerStart{ID: ids.LivenessTimer(owner)},
		CronFired{Scoped: ids.NewScopedName("infra", "deployer"), Owner: owner},
		CronSkipped{Scoped: ids.NewScopedName("infra", "deployer"), Reason: "concurrency_limit"},
		WorkerDispatched{Scoped: ids.NewScopedName("infra", "worker1"), Owner: owner, ItemID: "item-1"},
		QueuePushed{Scoped: ids.NewScopedName("infra", "q1"), ItemID: "item-1", Payload: []byte(`{"n":1}`)},
		DecisionCreated{DecisionID: ids.NewDecisionID(), Owner: owner, Source: "Idle", Context: "idle timeout", Options: []byte(`[]`)},
		DecisionResolved{DecisionID: ids.NewDecisionID(), Choices: []int{0}, Project: "infra"},
	}

	for _, data := range samples {
		t.Run(string(data.Kind()), func(t *testing.T) {
			original := Event{Seq: 42, At: time.Unix(1700000000, 0).UTC(), Data: data}

			first, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(first)
			require.NoError(t, err)

			second, err := Encode(decoded)
			require.NoError(t, err)

			assert.Equal(t, string(first), string(second))
			assert.Equal(t, data.Kind(), decoded.Kind())
		})
	}
}

// TestUnknownKindDecodesAsCustom ensures forward compatibility: an event
// tag this build doesn't recognize still decodes instead of failing the
// whole read.
func TestUnknownKindDecodesAsCustom(t *testing.T) {
	line := []byte(`{"seq":7,"kind":"FutureEventFromNewerDaemon","at":"2026-01-01T00:00:00Z","data":{"whatever":true}}`)

	e, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, KindCustom, e.Kind())

	custom, ok := e.Data.(Custom)
	require.True(t, ok)
	assert.Equal(t, Kind("FutureEventFromNewerDaemon"), custom.OriginalKind)
	assert.JSONEq(t, `{"whatever":true}`, string(custom.Raw))
}

// TestDecodeRejectsGarbage covers the WAL's corruption boundary: a partial
// tear, binary garbage, or an empty line must return an error, never
// panic, so the reader can treat the line as the corruption point.
func TestDecodeRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("   "),
		[]byte(`{"seq":1,"kind":"JobCreated","at":"2026-01-01T00:00:00Z","data":{`), // truncated
		{0x00, 0x01, 0xFF, 0xFE, 0x10},                                             // binary garbage
	}

	for i, c := range cases {
		_, err := Decode(c)
		assert.Errorf(t, err, "case %d: expected decode error for %q", i, c)
	}
}
