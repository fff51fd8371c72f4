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

package engine

import "time"

const (
	// livenessInterval is how often the engine re-checks a spawned agent's
	// subprocess and, if alive, its idle status.
	livenessInterval = 20 * time.Second

	// exitDeferredGrace is the window given to the adapter after an
	// unexpected process exit before it is treated as fully Gone.
	exitDeferredGrace = 5 * time.Second

	// defaultIdleCooldown is used for a nudge/resume chained attempt when
	// the runbook's on_idle config does not specify one.
	defaultIdleCooldown = 30 * time.Second
)
