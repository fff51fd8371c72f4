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

package docker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestBuildShellCommandChainsPrimeThenMain(t *testing.T) {
	got := buildShellCommand([]string{"npm ci", "make build"}, "make run")
	require.Equal(t, "npm ci && make build && make run", got)
}

func TestBuildShellCommandWithNoPrime(t *testing.T) {
	got := buildShellCommand(nil, "make run")
	require.Equal(t, "make run", got)
}

func TestEnvSliceFormatsKeyValuePairs(t *testing.T) {
	got := envSlice(map[string]string{"FOO": "bar"})
	require.Equal(t, []string{"FOO=bar"}, got)
}

func TestWriteConfigFileDefaultsActionByOwnerKind(t *testing.T) {
	dir := t.TempDir()
	req := effects.SpawnAgent{
		Owner:         ids.OwnerID{Kind: ids.OwnerKindCrew},
		WorkspacePath: dir,
	}
	require.NoError(t, writeConfigFile(req))

	data, err := os.ReadFile(filepath.Join(dir, ".oddjobs-agent.json"))
	require.NoError(t, err)

	var cfg struct {
		OnIdle struct {
			Action string `json:"action"`
		} `json:"on_idle"`
	}
	require.NoError(t, json.Unmarshal(data, &cfg))
	require.Equal(t, "escalate", cfg.OnIdle.Action)
}

func TestRingTailReturnsLastNLines(t *testing.T) {
	r := &ring{cap: 1024}
	r.Write([]byte("one\ntwo\nthree\n"))
	require.Equal(t, "two\nthree\n", r.tail(2))
	require.Equal(t, "one\ntwo\nthree\n", r.tail(0))
}
