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

package runbook

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals a compiled runbook's JSON form into its parsed shape.
// It does not parse runbook source (that grammar lives entirely outside
// this package); it only deserializes the already-compiled document a
// build step or a hot-reload watcher hands it. The Hash and JSON fields
// are always derived from data itself, overriding whatever (if anything)
// the document claims, so a hand-edited or stale hash in the file can
// never desync the cache key from the bytes it was loaded from.
func Decode(data []byte) (Runbook, error) {
	var rb Runbook
	if err := json.Unmarshal(data, &rb); err != nil {
		return Runbook{}, fmt.Errorf("runbook: decode: %w", err)
	}
	rb.JSON = string(data)
	rb.Hash = Hash(rb.JSON)
	return rb, nil
}
