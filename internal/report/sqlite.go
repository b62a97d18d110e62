package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT    NOT NULL,
	domain          TEXT    NOT NULL,
	address         TEXT    NOT NULL DEFAULT '',
	reason          TEXT    NOT NULL,
	error           TEXT    NOT NULL DEFAULT '',
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL,
	fetches         INTEGER NOT NULL,
	failures        INTEGER NOT NULL,
	oversized       INTEGER NOT NULL,
	truncated_lines INTEGER NOT NULL,
	discovered      INTEGER NOT NULL,
	robots_rules    INTEGER NOT NULL,
	bytes           INTEGER NOT NULL,
	new_bytes       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS domains_run ON domains(run_id);
`

type SQLite struct {
	db   *sql.DB
	stmt *sql.Stmt
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO domains (
		run_id, domain, address, reason, error, started_at, finished_at,
		fetches, failures, oversized, truncated_lines, discovered, robots_rules,
		bytes, new_bytes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	return &SQLite{db: db, stmt: stmt}, nil
}

func (s *SQLite) Record(ctx context.Context, d DomainSummary) error {
	_, err := s.stmt.ExecContext(ctx,
		d.RunID, d.Domain, d.Address, d.Reason, d.Error,
		unixMilli(d.Started), unixMilli(d.Finished),
		d.Fetches, d.Failures, d.Oversized, d.TruncatedLines, d.Discovered, d.RobotsRules,
		int64(d.Bytes), int64(d.NewBytes),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", d.Domain, err)
	}
	return nil
}

// DB exposes the underlying handle for queries over past runs.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error {
	s.stmt.Close()
	return s.db.Close()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
