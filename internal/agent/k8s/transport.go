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

// Package k8s documents the seam a Kubernetes-routed agent transport would
// fill (runbook agent.container.runtime "k8s": a Job or bare Pod per agent,
// log tailing via the Kubernetes API instead of a local file descriptor,
// exec for Send/Respond). It is intentionally a stub: a single-user,
// single-host daemon has no standing cluster to target, so there is nothing
// real to wire it to yet. The Transport below satisfies the same interface
// the local and Docker transports do and fails clearly rather than
// pretending to route anywhere.
package k8s

import (
	"context"
	"fmt"

	"github.com/oddjobs/oddjobs/internal/agent"
	"github.com/oddjobs/oddjobs/internal/effects"
)

// Transport is a not-yet-implemented Kubernetes agent transport.
type Transport struct{}

// NewTransport returns a stub Transport. Spawn always fails.
func NewTransport() *Transport {
	return &Transport{}
}

// Spawn always returns an error; see the package doc comment.
func (t *Transport) Spawn(ctx context.Context, req effects.SpawnAgent, sessionLogPath, capPath string) (agent.Handle, error) {
	return nil, fmt.Errorf("k8s transport: not implemented (runbook requested runtime %q)", req.Container.Runtime)
}
