// Package store is the audit/metadata persistence layer: a small SQLite
// table recording each dispatch outcome. It plays no part in serving
// cached bytes (that's the plain filesystem, inspected by
// internal/cacheobj) — it exists purely so operators can query what the
// proxy has been doing, the same role internal/store/store.go played
// for the teacher's release metadata, reusing its exact
// sql.Open("sqlite", dsn)+pragma+migration idiom for a different table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// AuditStore records one row per schedule outcome.
type AuditStore struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at dbPath.
func Open(dbPath string) (*AuditStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	s := &AuditStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}
	return s, nil
}

func (s *AuditStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			path        TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			provider    TEXT,
			started_at  DATETIME NOT NULL,
			bytes_served INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// RecordDispatch logs one outcome of the Scheduler for path.
func (s *AuditStore) RecordDispatch(ctx context.Context, path, outcome, provider string, startedAt time.Time, bytesServed int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO requests (path, outcome, provider, started_at, bytes_served) VALUES (?, ?, ?, ?, ?)",
		path, outcome, provider, startedAt, bytesServed,
	)
	return err
}

// Close releases the underlying database handle.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
