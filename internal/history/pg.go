package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudconsole/jobtracker/pkg/types"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tracked_jobs (
		job_id       TEXT PRIMARY KEY,
		operation    TEXT NOT NULL,
		status       TEXT NOT NULL,
		reason       TEXT,
		result       JSONB,
		ticks        INTEGER NOT NULL DEFAULT 0,
		submitted_at TIMESTAMPTZ NOT NULL,
		settled_at   TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS tracked_jobs_settled_at_idx ON tracked_jobs (settled_at DESC);
`

// PgLog persists settled jobs in PostgreSQL
type PgLog struct {
	pool *pgxpool.Pool
}

// NewPgLog connects to the database and creates the table if needed
func NewPgLog(ctx context.Context, connString string) (*PgLog, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PgLog{pool: pool}, nil
}

// Close closes the connection pool
func (l *PgLog) Close() {
	l.pool.Close()
}

// Record upserts e
func (l *PgLog) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO tracked_jobs (job_id, operation, status, reason, result, ticks, submitted_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			operation = EXCLUDED.operation,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			result = EXCLUDED.result,
			ticks = EXCLUDED.ticks,
			submitted_at = EXCLUDED.submitted_at,
			settled_at = EXCLUDED.settled_at
	`

	var result []byte
	if len(e.Result) > 0 {
		result = e.Result
	}

	_, err := l.pool.Exec(ctx, query,
		e.JobID,
		string(e.Status),
		nullString(e.Reason),
		result,
		e.Ticks,
		e.SubmittedAt,
		e.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", e.JobID, err)
	}
	return nil
}

// Get returns the entry for jobID
func (l *PgLog) Get(ctx context.Context, jobID string) (*Entry, error) {
	query := `
		SELECT job_id, operation, status, reason, result, ticks, submitted_at, settled_at
		FROM tracked_jobs
		WHERE job_id = $1
	`

	e, err := scanEntry(l.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return e, nil
}

// Latest returns up to limit entries ordered by settlement time, newest first
func (l *PgLog) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultMaxEntries
	}

	query := `
		SELECT job_id, operation, status, reason, result, ticks, submitted_at, settled_at
		FROM tracked_jobs
		ORDER BY settled_at DESC
		LIMIT $1
	`

	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		status string
		reason *string
		result []byte
	)
	err := row.Scan(
		&e.JobID,
		&e.Operation,
		&status,
		&reason,
		&result,
		&e.Ticks,
		&e.SubmittedAt,
		&e.SettledAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = types.JobStatus(status)
	if reason != nil {
		e.Reason = *reason
	}
	if len(result) > 0 {
		e.Result = result
	}
	return &e, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
