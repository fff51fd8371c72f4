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
	"encoding/json"
	"log/slog"

	"github.com/oddjobs/oddjobs/internal/clock"
	"github.com/oddjobs/oddjobs/internal/events"
)

// Mirror keeps a SQLite table per entity kind in sync with the event
// stream. It is fed the same events.Data values the WAL appends, the same
// way internal/metrics.Observer is; the two observers are independent
// consumers of one stream, neither aware of the other.
type Mirror struct {
	db  *sql.DB
	clk clock.Clock
	log *slog.Logger
}

// NewMirror wraps an already-open database in a Mirror.
func NewMirror(db *sql.DB, clk clock.Clock, logger *slog.Logger) *Mirror {
	return &Mirror{db: db, clk: clk, log: logger}
}

// Observe matches the Sink signature used throughout the daemon, so a
// caller composes it directly into the same fan-out the WAL appender and
// internal/metrics.Observer already sit in:
//
//	sink := func(d events.Data) { mirror.Observe(d); obs.Observe(d); appender.Append(d) }
func (m *Mirror) Observe(d events.Data) {
	ctx := context.Background()
	now := m.clk.Now().UnixMilli()

	var err error
	switch ev := d.(type) {
	case events.JobCreated:
		err = m.upsertJob(ctx, ev, now)
	case events.JobAdvanced:
		err = m.exec(ctx, `UPDATE jobs SET step = ?, updated_at = ? WHERE id = ?`, ev.Step, now, string(ev.JobID))
	case events.StepStarted:
		err = m.exec(ctx, `UPDATE jobs SET step = ?, step_status = 'running', updated_at = ? WHERE id = ?`, ev.Step, now, string(ev.JobID))
	case events.StepCompleted:
		err = m.exec(ctx, `UPDATE jobs SET step_status = 'completed', updated_at = ? WHERE id = ?`, now, string(ev.JobID))
	case events.StepFailed:
		err = m.exec(ctx, `UPDATE jobs SET step_status = 'failed', updated_at = ? WHERE id = ?`, now, string(ev.JobID))
	case events.JobDeleted:
		err = m.exec(ctx, `UPDATE jobs SET deleted = 1, updated_at = ? WHERE id = ?`, now, string(ev.JobID))
	case events.CrewCreated:
		err = m.upsertCrew(ctx, ev, now)
	case events.DecisionCreated:
		err = m.insertDecision(ctx, ev, now)
	case events.DecisionResolved:
		err = m.resolveDecision(ctx, ev)
	}
	if err != nil {
		m.log.Error("sqlitestate: failed to mirror event", "kind", d.Kind(), "error", err)
	}
}

func (m *Mirror) exec(ctx context.Context, query string, args ...any) error {
	return retryWithBackoff(ctx, func() error {
		_, err := m.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (m *Mirror) upsertJob(ctx context.Context, ev events.JobCreated, now int64) error {
	return m.exec(ctx, `
		INSERT INTO jobs (id, kind, project, step, step_status, runbook_hash, created_at, updated_at)
		VALUES (?, ?, ?, '', 'pending', ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		string(ev.JobID), ev.Kind_, ev.Project, ev.RunbookHash, now, now)
}

func (m *Mirror) upsertCrew(ctx context.Context, ev events.CrewCreated, now int64) error {
	return m.exec(ctx, `
		INSERT INTO crew (id, agent_name, command_name, project, status, runbook_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		string(ev.CrewID), ev.AgentName, ev.CommandName, ev.Project, ev.RunbookHash, now, now)
}

func (m *Mirror) insertDecision(ctx context.Context, ev events.DecisionCreated, now int64) error {
	return m.exec(ctx, `
		INSERT INTO decisions (id, owner, project, source, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		string(ev.DecisionID), ev.Owner.String(), ev.Owner.String(), ev.Source, ev.Context, now)
}

func (m *Mirror) resolveDecision(ctx context.Context, ev events.DecisionResolved) error {
	choices, err := json.Marshal(ev.Choices)
	if err != nil {
		return err
	}
	return m.exec(ctx, `UPDATE decisions SET choices = ?, message = ?, resolved_at = ? WHERE id = ?`,
		string(choices), ev.Message, ev.ResolvedAtMS, string(ev.DecisionID))
}
