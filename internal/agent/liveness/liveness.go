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

// Package liveness answers one question: is the OS process behind a
// locally-routed agent still alive? It backs the local subprocess
// adapter's is_alive check and the startup reconciler's recovery pass.
package liveness

import (
	"github.com/shirou/gopsutil/v4/process"
)

// Checker checks process liveness by PID.
type Checker struct{}

// New builds a Checker.
func New() *Checker { return &Checker{} }

// IsAlive reports whether pid names a running, non-zombie process. A
// lookup failure (process never existed, or the kernel has already
// reaped it) is treated as "not alive" rather than propagated: callers
// only ever want a boolean, and an unreadable /proc entry is exactly the
// dead case they're checking for.
func (c *Checker) IsAlive(pid int32) bool {
	if pid <= 0 {
		return false
	}

	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}

	running, err := proc.IsRunning()
	if err != nil {
		return false
	}
	if !running {
		return false
	}

	status, err := proc.Status()
	if err != nil {
		// Status is best-effort; a process we could open and that
		// reports running is alive even if /proc/<pid>/stat parsing
		// itself failed under load.
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}
