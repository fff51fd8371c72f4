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
	"regexp"
	"strings"
)

// Scope is one of the four namespaces interpolation can read from, plus
// the always-injected system vars.
type Scope struct {
	Var    map[string]string // var.*  — user input
	Local  map[string]string // local.* — computed per job definition
	Invoke map[string]string // invoke.* — invocation context (invoke.dir, ...)
	Source map[string]string // source.* — triggering source
	System map[string]string // top-level: job_id, crew_id, agent_id, workspace, name
}

// NewScope returns an empty Scope with all maps initialized.
func NewScope() Scope {
	return Scope{
		Var:    map[string]string{},
		Local:  map[string]string{},
		Invoke: map[string]string{},
		Source: map[string]string{},
		System: map[string]string{},
	}
}

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\}`)

// Interpolate performs purely textual substitution of ${scope.name} (and
// bare ${name} against System) placeholders. Unknown placeholders are left
// verbatim rather than erroring, matching the runtime-errors policy of
// failing the owning entity rather than the whole interpolation pass —
// the caller surfaces a missing reference as a StepFailed when the
// resulting command fails, not here.
func Interpolate(template string, scope Scope) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-1]
		scopeName, name, hasDot := strings.Cut(key, ".")
		var table map[string]string
		if !hasDot {
			table = scope.System
			name = scopeName
		} else {
			switch scopeName {
			case "var":
				table = scope.Var
			case "local":
				table = scope.Local
			case "invoke":
				table = scope.Invoke
			case "source":
				table = scope.Source
			default:
				return match
			}
		}
		if v, ok := table[name]; ok {
			return v
		}
		return match
	})
}

// ShellEscape single-quotes a value for safe inclusion in a POSIX shell
// command line or agent command string, the way any value sourced from
// var./source. scopes must be escaped before interpolation per the
// variable-scoping invariant.
func ShellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// InterpolateEscaped interpolates template against scope, shell-escaping
// every substituted value (but not the surrounding literal text) before
// splicing it in.
func InterpolateEscaped(template string, scope Scope) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-1]
		scopeName, name, hasDot := strings.Cut(key, ".")
		var table map[string]string
		if !hasDot {
			table = scope.System
			name = scopeName
		} else {
			switch scopeName {
			case "var":
				table = scope.Var
			case "local":
				table = scope.Local
			case "invoke":
				table = scope.Invoke
			case "source":
				table = scope.Source
			default:
				return match
			}
		}
		if v, ok := table[name]; ok {
			return ShellEscape(v)
		}
		return match
	})
}
