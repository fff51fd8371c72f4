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

// Package workspace creates and tears down the folders and git worktrees
// agents run inside. It implements internal/executor's WorkspaceManager.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/oddjobs/oddjobs/internal/effects"
)

// Manager creates plain directories and git worktrees, and removes them
// on owner teardown.
type Manager struct {
	log *slog.Logger
}

// New builds a Manager.
func New(logger *slog.Logger) *Manager {
	return &Manager{log: logger}
}

// Create makes req.Path exist: a plain directory for Type "folder", or a
// git worktree checked out from RepoRoot at a new branch rooted at
// StartPoint for Type "worktree".
func (m *Manager) Create(ctx context.Context, req effects.CreateWorkspace) error {
	switch req.Type {
	case "worktree":
		return m.createWorktree(ctx, req)
	default:
		return m.createFolder(req)
	}
}

func (m *Manager) createFolder(req effects.CreateWorkspace) error {
	if err := os.MkdirAll(req.Path, 0o755); err != nil {
		return fmt.Errorf("create workspace folder: %w", err)
	}
	return nil
}

func (m *Manager) createWorktree(ctx context.Context, req effects.CreateWorkspace) error {
	startPoint := req.StartPoint
	if startPoint == "" {
		startPoint = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", req.Branch, req.Path, startPoint)
	cmd.Dir = req.RepoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		m.log.Error("workspace: git worktree add failed", "workspace_id", req.WorkspaceID, "output", string(output), "error", err)
		return fmt.Errorf("git worktree add: %w: %s", err, string(output))
	}
	return nil
}

// Delete removes req.Path. For a worktree this runs "git worktree
// remove"; for a plain folder (and as a worktree-remove fallback) it
// retries os.RemoveAll before shelling out to rm -rf, since directories
// freshly released by an exiting agent process can transiently report
// "not empty".
func (m *Manager) Delete(ctx context.Context, req effects.DeleteWorkspace) error {
	if req.Path == "" {
		return nil
	}

	if isGitWorktree(req.Path) {
		cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", req.Path)
		if output, err := cmd.CombinedOutput(); err != nil {
			m.log.Debug("workspace: git worktree remove failed, falling back to rm", "workspace_id", req.WorkspaceID, "output", string(output))
		} else {
			return nil
		}
	}

	return m.forceRemoveDir(ctx, req.Path)
}

func isGitWorktree(path string) bool {
	info, err := os.Stat(path + "/.git")
	return err == nil && !info.IsDir()
}

func (m *Manager) forceRemoveDir(ctx context.Context, dir string) error {
	const maxRetries = 3
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := os.RemoveAll(dir); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	cmd := exec.CommandContext(ctx, "rm", "-rf", dir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("remove workspace dir: %w (last RemoveAll error: %v, output: %s)", err, lastErr, string(output))
	}
	return nil
}
