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

// Package sqlitestate maintains a queryable SQLite mirror of jobs, crew,
// and decisions, derived from the same event stream the WAL persists. The
// write-ahead log remains the source of truth the daemon replays from on
// startup; this mirror exists purely so an operator can
// run an ordinary SQL query against current state instead of walking the
// in-memory materialized projection's Go maps.
package sqlitestate

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	project      TEXT NOT NULL,
	step         TEXT NOT NULL,
	step_status  TEXT NOT NULL,
	runbook_hash TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	deleted      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project);
CREATE INDEX IF NOT EXISTS idx_jobs_step_status ON jobs(step_status);

CREATE TABLE IF NOT EXISTS crew (
	id            TEXT PRIMARY KEY,
	agent_name    TEXT NOT NULL,
	command_name  TEXT NOT NULL,
	project       TEXT NOT NULL,
	status        TEXT NOT NULL,
	runbook_hash  TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crew_project ON crew(project);

CREATE TABLE IF NOT EXISTS decisions (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL,
	project       TEXT NOT NULL,
	source        TEXT NOT NULL,
	context       TEXT NOT NULL,
	choices       TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	resolved_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decisions_project ON decisions(project);
CREATE INDEX IF NOT EXISTS idx_decisions_unresolved ON decisions(resolved_at);
`

// normalizeSQLiteDSN builds a modernc.org/sqlite DSN that always allows
// database creation and tolerates concurrent access from the daemon's own
// WAL writer goroutine and an operator's read-only query in another
// process.
func normalizeSQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
}

// Open opens (creating if necessary) the sqlite mirror at path and ensures
// its schema exists. The returned *sql.DB is capped to a single
// connection: this mirror has one writer (the Mirror) and the daemon
// process has no need for read concurrency beyond what one connection
// serializes fine for a single-host tool.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlitestate: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestate: apply schema: %w", err)
	}
	return db, nil
}
