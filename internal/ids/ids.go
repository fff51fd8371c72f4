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

// Package ids defines the daemon's opaque, content-free identifier types.
// New IDs are UUIDs; TimerID is the one composite, human-readable tag.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// JobID identifies a scripted workflow instance.
type JobID string

// CrewID identifies a standalone one-shot agent invocation.
type CrewID string

// AgentID identifies a spawned agent session.
type AgentID string

// WorkspaceID identifies a folder or worktree.
type WorkspaceID string

// DecisionID identifies a human-intervention record.
type DecisionID string

// TimerID is a composite tag, e.g. "liveness:job:job-...", "cron:deploy:default",
// "exit_deferred:job:job-...". Re-setting a timer with the same TimerID replaces
// rather than stacks it in the Scheduler.
type TimerID string

// OwnerKind discriminates the two owner-capable entities.
type OwnerKind string

const (
	OwnerKindJob  OwnerKind = "job"
	OwnerKindCrew OwnerKind = "crew"
)

// OwnerID is Job(JobID) | Crew(CrewID): the parent of agents, workspaces,
// and decisions.
type OwnerID struct {
	Kind OwnerKind
	Job  JobID
	Crew CrewID
}

// NewJobOwner builds an OwnerID for a job.
func NewJobOwner(id JobID) OwnerID { return OwnerID{Kind: OwnerKindJob, Job: id} }

// NewCrewOwner builds an OwnerID for a crew.
func NewCrewOwner(id CrewID) OwnerID { return OwnerID{Kind: OwnerKindCrew, Crew: id} }

// String renders the owner as "job:<id>" or "crew:<id>", the same form
// used inside composite TimerIDs.
func (o OwnerID) String() string {
	switch o.Kind {
	case OwnerKindJob:
		return "job:" + string(o.Job)
	case OwnerKindCrew:
		return "crew:" + string(o.Crew)
	default:
		return "unknown:"
	}
}

// ParseOwnerID parses the "job:<id>" / "crew:<id>" form back into an OwnerID.
func ParseOwnerID(s string) (OwnerID, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return OwnerID{}, fmt.Errorf("ids: malformed owner id %q", s)
	}
	switch OwnerKind(kind) {
	case OwnerKindJob:
		return NewJobOwner(JobID(id)), nil
	case OwnerKindCrew:
		return NewCrewOwner(CrewID(id)), nil
	default:
		return OwnerID{}, fmt.Errorf("ids: unknown owner kind %q", kind)
	}
}

// NewJobID mints a fresh JobID.
func NewJobID() JobID { return JobID("job-" + uuid.New().String()) }

// NewCrewID mints a fresh CrewID.
func NewCrewID() CrewID { return CrewID("crew-" + uuid.New().String()) }

// NewAgentID mints a fresh AgentID.
func NewAgentID() AgentID { return AgentID("agent-" + uuid.New().String()) }

// NewWorkspaceID mints a fresh WorkspaceID.
func NewWorkspaceID() WorkspaceID { return WorkspaceID("ws-" + uuid.New().String()) }

// NewDecisionID mints a fresh DecisionID.
func NewDecisionID() DecisionID { return DecisionID("decision-" + uuid.New().String()) }

// LivenessTimer builds the composite TimerID for an owner's recurring
// liveness check.
func LivenessTimer(owner OwnerID) TimerID {
	return TimerID("liveness:" + owner.String())
}

// ExitDeferredTimer builds the composite TimerID for the grace window
// before an unexpected agent exit is treated as Gone.
func ExitDeferredTimer(owner OwnerID) TimerID {
	return TimerID("exit_deferred:" + owner.String())
}

// CronTimer builds the composite TimerID for a cron's recurring fire,
// scoped name:namespace per spec.
func CronTimer(name, namespace string) TimerID {
	return TimerID(fmt.Sprintf("cron:%s:%s", name, namespace))
}

// ScopedName is a project-qualified name used to key workers, crons, and
// queues: "<project>/<name>".
type ScopedName string

// NewScopedName builds a ScopedName from a project and a local name.
func NewScopedName(project, name string) ScopedName {
	return ScopedName(project + "/" + name)
}

// Project returns the project portion of a ScopedName.
func (s ScopedName) Project() string {
	project, _, _ := strings.Cut(string(s), "/")
	return project
}

// Name returns the local-name portion of a ScopedName.
func (s ScopedName) Name() string {
	_, name, _ := strings.Cut(string(s), "/")
	return name
}
