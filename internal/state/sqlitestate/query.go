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

package sqlitestate

import (
	"context"
	"database/sql"
)

// JobRow is one row of the jobs mirror table.
type JobRow struct {
	ID          string
	Kind        string
	Project     string
	Step        string
	StepStatus  string
	RunbookHash string
	CreatedAtMS int64
	UpdatedAtMS int64
	Deleted     bool
}

// CrewRow is one row of the crew mirror table.
type CrewRow struct {
	ID          string
	AgentName   string
	CommandName string
	Project     string
	Status      string
	RunbookHash string
	CreatedAtMS int64
	UpdatedAtMS int64
}

// DecisionRow is one row of the decisions mirror table.
type DecisionRow struct {
	ID           string
	Owner        string
	Project      string
	Source       string
	Context      string
	Choices      string
	Message      string
	CreatedAtMS  int64
	ResolvedAtMS int64
}

// Resolved reports whether a human has already answered this decision.
func (d DecisionRow) Resolved() bool { return d.ResolvedAtMS != 0 }

// JobsByProject returns every non-deleted job mirrored for project, most
// recently updated first.
func (m *Mirror) JobsByProject(ctx context.Context, project string) ([]JobRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, kind, project, step, step_status, runbook_hash, created_at, updated_at, deleted
		FROM jobs WHERE project = ? AND deleted = 0 ORDER BY updated_at DESC`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var j JobRow
		var deleted int
		if err := rows.Scan(&j.ID, &j.Kind, &j.Project, &j.Step, &j.StepStatus, &j.RunbookHash, &j.CreatedAtMS, &j.UpdatedAtMS, &deleted); err != nil {
			return nil, err
		}
		j.Deleted = deleted != 0
		out = append(out, j)
	}
	return out, rows.Err()
}

// JobsByStatus returns every non-deleted job currently in stepStatus
// (e.g. "failed", "waiting"), across all projects.
func (m *Mirror) JobsByStatus(ctx context.Context, stepStatus string) ([]JobRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, kind, project, step, step_status, runbook_hash, created_at, updated_at, deleted
		FROM jobs WHERE step_status = ? AND deleted = 0 ORDER BY updated_at DESC`, stepStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRow
	for rows.Next() {
		var j JobRow
		var deleted int
		if err := rows.Scan(&j.ID, &j.Kind, &j.Project, &j.Step, &j.StepStatus, &j.RunbookHash, &j.CreatedAtMS, &j.UpdatedAtMS, &deleted); err != nil {
			return nil, err
		}
		j.Deleted = deleted != 0
		out = append(out, j)
	}
	return out, rows.Err()
}

// PendingDecisions returns every unresolved decision, oldest first, so an
// operator (or a future CLI subcommand) can triage the oldest blocker.
func (m *Mirror) PendingDecisions(ctx context.Context) ([]DecisionRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, owner, project, source, context, choices, message, created_at, resolved_at
		FROM decisions WHERE resolved_at = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var d DecisionRow
		if err := rows.Scan(&d.ID, &d.Owner, &d.Project, &d.Source, &d.Context, &d.Choices, &d.Message, &d.CreatedAtMS, &d.ResolvedAtMS); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CrewByProject returns every crew mirrored for project, most recently
// updated first.
func (m *Mirror) CrewByProject(ctx context.Context, project string) ([]CrewRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, agent_name, command_name, project, status, runbook_hash, created_at, updated_at
		FROM crew WHERE project = ? ORDER BY updated_at DESC`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CrewRow
	for rows.Next() {
		var c CrewRow
		if err := rows.Scan(&c.ID, &c.AgentName, &c.CommandName, &c.Project, &c.Status, &c.RunbookHash, &c.CreatedAtMS, &c.UpdatedAtMS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Job looks up a single mirrored job by id. Returns sql.ErrNoRows if
// absent, matching database/sql's own convention rather than wrapping it
// in a package-specific not-found type: this mirror is a read-side
// convenience, not the system of record callers need a typed error from.
func (m *Mirror) Job(ctx context.Context, id string) (JobRow, error) {
	var j JobRow
	var deleted int
	err := m.db.QueryRowContext(ctx, `
		SELECT id, kind, project, step, step_status, runbook_hash, created_at, updated_at, deleted
		FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Kind, &j.Project, &j.Step, &j.StepStatus, &j.RunbookHash, &j.CreatedAtMS, &j.UpdatedAtMS, &deleted)
	if err != nil {
		if err == sql.ErrNoRows {
			return JobRow{}, err
		}
		return JobRow{}, err
	}
	j.Deleted = deleted != 0
	return j, nil
}

// Close closes the underlying database connection.
func (m *Mirror) Close() error {
	return m.db.Close()
}
