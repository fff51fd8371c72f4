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

package workspace

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/oddjobs/oddjobs/internal/effects"
	"github.com/oddjobs/oddjobs/internal/ids"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return New(slog.New(slog.NewTextHandler(nopWriter{}, nil)))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCreateFolderMakesDirectory(t *testing.T) {
	m := newTestManager()
	path := filepath.Join(t.TempDir(), "ws-1")

	err := m.Create(context.Background(), effects.CreateWorkspace{
		WorkspaceID: ids.NewWorkspaceID(), Path: path, Type: "folder",
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestDeleteFolderRemovesDirectory(t *testing.T) {
	m := newTestManager()
	path := filepath.Join(t.TempDir(), "ws-1")
	require.NoError(t, os.MkdirAll(path, 0o755))

	err := m.Delete(context.Background(), effects.DeleteWorkspace{WorkspaceID: ids.NewWorkspaceID(), Path: path})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestDeleteOnEmptyPathIsANoOp(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Delete(context.Background(), effects.DeleteWorkspace{}))
}

// requireGit skips the test if git isn't on PATH, since worktree creation
// shells out to the real binary rather than a library.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hi"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return repo
}

func TestCreateWorktreeChecksOutNewBranch(t *testing.T) {
	requireGit(t)
	repo := initTestRepo(t)
	worktreePath := filepath.Join(t.TempDir(), "wt-1")
	m := newTestManager()

	err := m.Create(context.Background(), effects.CreateWorkspace{
		WorkspaceID: ids.NewWorkspaceID(), Path: worktreePath, Type: "worktree",
		RepoRoot: repo, Branch: "feature/x", StartPoint: "HEAD",
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(worktreePath, "README.md"))
	require.NoError(t, err)
}

func TestDeleteWorktreeRemovesItFromGit(t *testing.T) {
	requireGit(t)
	repo := initTestRepo(t)
	worktreePath := filepath.Join(t.TempDir(), "wt-2")
	m := newTestManager()

	require.NoError(t, m.Create(context.Background(), effects.CreateWorkspace{
		WorkspaceID: ids.NewWorkspaceID(), Path: worktreePath, Type: "worktree",
		RepoRoot: repo, Branch: "feature/y", StartPoint: "HEAD",
	}))

	err := m.Delete(context.Background(), effects.DeleteWorkspace{WorkspaceID: ids.NewWorkspaceID(), Path: worktreePath})
	require.NoError(t, err)

	_, err = os.Stat(worktreePath)
	require.True(t, os.IsNotExist(err))
}
