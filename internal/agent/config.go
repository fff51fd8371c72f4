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
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/ids"
)

// configFile is the effective per-spawn policy the adapter writes
// alongside the session log, so a cooperative agent client can read its
// own escalation and stop behavior instead of having it silently assumed.
type configFile struct {
	OnIdle struct {
		Action  string `json:"action"`
		Message string `json:"message,omitempty"`
		GateCmd string `json:"gate_cmd,omitempty"`
	} `json:"on_idle"`
	Prime []string `json:"prime,omitempty"`
	Stop  struct {
		Mode string `json:"mode,omitempty"`
	} `json:"stop"`
}

// defaultOnIdleAction returns the action an agent config file falls back
// to when the runbook didn't configure one: "done" for a job-owned step
// (advance the step graph), "escalate" for a standalone crew (nothing to
// advance to, so a human has to look).
func defaultOnIdleAction(owner ids.OwnerID) string {
	if owner.Kind == ids.OwnerKindCrew {
		return "escalate"
	}
	return "done"
}

// writeConfigFile writes the agent config file into workspacePath,
// returning its path. Failure to write is non-fatal to the spawn: a
// missing config file only means a cooperative client falls back to its
// own defaults, not that the agent can't start.
func writeConfigFile(workspacePath string, req effects.SpawnAgent) (string, error) {
	var cfg configFile
	action := req.OnIdleAction
	if action == "" {
		action = defaultOnIdleAction(req.Owner)
	}
	cfg.OnIdle.Action = action
	cfg.OnIdle.Message = req.OnIdleMessage
	cfg.OnIdle.GateCmd = req.OnIdleGateCmd
	cfg.Prime = req.Prime
	cfg.Stop.Mode = req.StopMode

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(workspacePath, ".oddjobs-agent.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
