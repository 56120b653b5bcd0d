// Package archive keeps a durable history of finished jobs.
//
// Terminal jobs (completed, cancelled, failed) are appended to a local sqlite
// database by the scheduler. The archive is write-once history, separate from
// the queue snapshot: the snapshot answers "what should run", the archive
// answers "what ran".
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/millrun/millrun/pkg/job"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT NOT NULL,
	name                TEXT NOT NULL,
	job_type            TEXT NOT NULL,
	status              TEXT NOT NULL,
	priority            INTEGER NOT NULL,
	progress            REAL NOT NULL,
	last_completed_line INTEGER,
	total_lines         INTEGER NOT NULL,
	program             TEXT,
	created_at          TIMESTAMP NOT NULL,
	started_at          TIMESTAMP,
	completed_at        TIMESTAMP,
	duration_seconds    INTEGER NOT NULL,
	error_message       TEXT,
	archived_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_archived_at ON jobs (archived_at DESC);
`

// Entry is one archived job record.
type Entry struct {
	Job        *job.Job  `json:"job"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Store is the sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	// The scheduler is the only writer; a single connection avoids
	// SQLITE_BUSY on concurrent reads from the API.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a terminal job to the history. Implements the scheduler's
// Archiver interface.
func (s *Store) Record(ctx context.Context, j *job.Job) error {
	var lastLine sql.NullInt64
	if j.LastCompletedLine != nil {
		lastLine = sql.NullInt64{Int64: int64(*j.LastCompletedLine), Valid: true}
	}
	var startedAt, completedAt sql.NullTime
	if !j.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: j.StartedAt, Valid: true}
	}
	if !j.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: j.CompletedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, name, job_type, status, priority, progress,
			last_completed_line, total_lines, program,
			created_at, started_at, completed_at,
			duration_seconds, error_message, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, string(j.Type), string(j.Status), j.Priority, j.Progress,
		lastLine, j.TotalLines, j.Program,
		j.CreatedAt, startedAt, completedAt,
		j.Duration, j.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", j.ID, err)
	}
	return nil
}

// List returns the most recent entries, newest first. limit <= 0 returns up
// to 100 entries.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, job_type, status, priority, progress,
		       last_completed_line, total_lines, program,
		       created_at, started_at, completed_at,
		       duration_seconds, error_message, archived_at
		FROM jobs
		ORDER BY archived_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			j           job.Job
			jobType     string
			status      string
			lastLine    sql.NullInt64
			startedAt   sql.NullTime
			completedAt sql.NullTime
			archivedAt  time.Time
		)
		if err := rows.Scan(
			&j.ID, &j.Name, &jobType, &status, &j.Priority, &j.Progress,
			&lastLine, &j.TotalLines, &j.Program,
			&j.CreatedAt, &startedAt, &completedAt,
			&j.Duration, &j.ErrorMessage, &archivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		j.Type = job.Type(jobType)
		j.Status = job.Status(status)
		if lastLine.Valid {
			l := int(lastLine.Int64)
			j.LastCompletedLine = &l
		}
		if startedAt.Valid {
			j.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			j.CompletedAt = completedAt.Time
		}
		entries = append(entries, Entry{Job: &j, ArchivedAt: archivedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return entries, nil
}
