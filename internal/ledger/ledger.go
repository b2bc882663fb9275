// Package ledger keeps a sqlite history of completed runs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one completed run.
type Entry struct {
	RunID     string
	Version   string
	Rows      int
	Duration  time.Duration
	OutDir    string
	CreatedAt time.Time
}

// Ledger wraps the run-history database.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the ledger at path, creating parent directories as
// needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize ledger schema: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		version     TEXT NOT NULL,
		rows        INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		out_dir     TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record appends one run to the history.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, version, rows, duration_ms, out_dir, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Version, e.Rows, e.Duration.Milliseconds(), e.OutDir,
		createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record run %s: %w", e.RunID, err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, version, rows, duration_ms, out_dir, created_at
		 FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&e.RunID, &e.Version, &e.Rows, &durationMS, &e.OutDir, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
