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

package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpenOnUnreachableURLReturnsError exercises the no-server path
// without requiring a live JetStream instance in the test environment.
func TestOpenOnUnreachableURLReturnsError(t *testing.T) {
	_, err := Open(Config{
		URL:     "nats://127.0.0.1:4",
		Stream:  "ODDJOBS_TEST",
		Subject: "oddjobs.test.queue",
		Durable: "oddjobs-test",
	})
	require.Error(t, err)
}
