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

package stream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestLog(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.log")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestSeedOffsetZeroOrNegativeStartsAtBeginning(t *testing.T) {
	path := writeTestLog(t, "a\nb\nc\n")
	off, err := seedOffset(path, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, off)
}

func TestSeedOffsetReturnsLastNLines(t *testing.T) {
	path := writeTestLog(t, "a\nb\nc\n")
	off, err := seedOffset(path, 1)
	require.NoError(t, err)

	lines, _, err := readNewLines(path, off)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "c", string(lines[0]))
}

func TestSeedOffsetMissingFileIsZero(t *testing.T) {
	off, err := seedOffset(filepath.Join(t.TempDir(), "missing.log"), 5)
	require.NoError(t, err)
	require.EqualValues(t, 0, off)
}

func TestReadNewLinesSkipsIncompleteTrailingLine(t *testing.T) {
	path := writeTestLog(t, "first\nsecond\npartial")
	lines, offset, err := readNewLines(path, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "first", string(lines[0]))
	require.Equal(t, "second", string(lines[1]))

	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\npartial\n"), 0o644))
	more, _, err := readNewLines(path, offset)
	require.NoError(t, err)
	require.Len(t, more, 1)
	require.Equal(t, "partial", string(more[0]))
}
