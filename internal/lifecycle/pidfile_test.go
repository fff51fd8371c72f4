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

package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPIDFileManagerCreateWritesAndLocksPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	m := NewPIDFileManager(path)
	defer m.Remove()

	require.NoError(t, m.Create(1234))
	require.True(t, m.Exists())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "1234\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestPIDFileManagerCreateRejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	first := NewPIDFileManager(path)
	require.NoError(t, first.Create(111))
	defer first.Remove()

	second := NewPIDFileManager(path)
	err := second.Create(222)
	require.Error(t, err)
	require.True(t, err == ErrPIDFileExists || err == ErrPIDFileLocked)
}

func TestPIDFileManagerReadReturnsWrittenPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	m := NewPIDFileManager(path)
	require.NoError(t, m.Create(4242))
	defer m.Remove()

	pid, err := m.Read()
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}

func TestPIDFileManagerReadRejectsCorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0600))

	m := NewPIDFileManager(path)
	_, err := m.Read()
	require.ErrorIs(t, err, ErrInvalidPID)
}

func TestPIDFileManagerReadMissingFileReturnsNotExist(t *testing.T) {
	m := NewPIDFileManager(filepath.Join(t.TempDir(), "missing.pid"))
	_, err := m.Read()
	require.True(t, os.IsNotExist(err))
}

func TestPIDFileManagerRemoveReleasesLockAndDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	m := NewPIDFileManager(path)
	require.NoError(t, m.Create(555))

	require.NoError(t, m.Remove())
	require.False(t, m.Exists())

	// A second manager can now acquire the file.
	again := NewPIDFileManager(path)
	require.NoError(t, again.Create(556))
	defer again.Remove()
}

func TestPIDFileManagerRejectsWorldWritableDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0777))
	m := NewPIDFileManager(filepath.Join(dir, "test.pid"))

	err := m.Create(1)
	require.ErrorIs(t, err, ErrUnsafeDirectory)
}
