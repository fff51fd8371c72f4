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
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes an Event as one compact JSON object, the unit the WAL
// appends one per line. It never embeds a literal newline in its output.
func Encode(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	if bytes.ContainsRune(raw, '\n') {
		return nil, fmt.Errorf("events: encoded record unexpectedly contains a newline")
	}
	return raw, nil
}

// Decode parses one line-framed record back into an Event. Decode never
// panics: malformed input (a partial tear, binary garbage, truncation)
// always returns a non-nil error so the caller (the WAL reader) can treat
// the line as the corruption boundary.
func Decode(line []byte) (Event, error) {
	var e Event
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Event{}, fmt.Errorf("events: empty record")
	}
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return Event{}, fmt.Errorf("events: decode record: %w", err)
	}
	return e, nil
}
