// Package history persists finished reindex runs to a local SQLite
// database so operators can review past runs after a restart.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/openecm/ragsearch/internal/reindex"
)

const schema = `
CREATE TABLE IF NOT EXISTS reindex_runs (
	id              TEXT PRIMARY KEY,
	repository_id   TEXT NOT NULL,
	scope           TEXT NOT NULL,
	phase           TEXT NOT NULL,
	total_documents INTEGER NOT NULL,
	indexed_count   INTEGER NOT NULL,
	skipped_count   INTEGER NOT NULL,
	error_count     INTEGER NOT NULL,
	error_message   TEXT NOT NULL DEFAULT '',
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL,
	recorded_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_repo_time
	ON reindex_runs (repository_id, recorded_at DESC);
`

// Run is one persisted reindex run.
type Run struct {
	ID             string `json:"id"`
	RepositoryID   string `json:"repository_id"`
	Scope          string `json:"scope"`
	Phase          string `json:"phase"`
	TotalDocuments int    `json:"total_documents"`
	IndexedCount   int    `json:"indexed_count"`
	SkippedCount   int    `json:"skipped_count"`
	ErrorCount     int    `json:"error_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
	StartedAt      int64  `json:"started_at"`
	FinishedAt     int64  `json:"finished_at"`
	RecordedAt     int64  `json:"recorded_at"`
}

// Store is the SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path. An empty path
// opens an in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores one finished run. Implements reindex.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, scope string, snap reindex.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reindex_runs (
			id, repository_id, scope, phase,
			total_documents, indexed_count, skipped_count, error_count,
			error_message, started_at, finished_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), snap.RepositoryID, scope, string(snap.Phase),
		snap.TotalDocuments, snap.IndexedCount, snap.SkippedCount, snap.ErrorCount,
		snap.ErrorMessage, snap.StartTime, snap.EndTime, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a repository, newest first.
func (s *Store) ListRuns(ctx context.Context, repositoryID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, scope, phase,
		       total_documents, indexed_count, skipped_count, error_count,
		       error_message, started_at, finished_at, recorded_at
		FROM reindex_runs
		WHERE repository_id = ?
		ORDER BY recorded_at DESC, id
		LIMIT ?`, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.RepositoryID, &r.Scope, &r.Phase,
			&r.TotalDocuments, &r.IndexedCount, &r.SkippedCount, &r.ErrorCount,
			&r.ErrorMessage, &r.StartedAt, &r.FinishedAt, &r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("history: failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs older than the cutoff, returning the number
// removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reindex_runs WHERE recorded_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: failed to count pruned runs: %w", err)
	}
	return int(n), nil
}
