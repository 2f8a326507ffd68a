// Package postgres persists the run ledger in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-pipeline/internal/ledger"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements ledger.Recorder and ledger.Repository.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres.
func New(ctx context.Context, dsn, table string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewWithPool(p, table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "pipeline_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			pages INTEGER NOT NULL DEFAULT 0,
			extracted INTEGER NOT NULL DEFAULT 0,
			normalized INTEGER NOT NULL DEFAULT 0,
			loaded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			checkpoint TEXT NOT NULL DEFAULT '',
			error_message TEXT
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// Start inserts a running row. Restarting an existing id only resets its status.
func (s *Store) Start(ctx context.Context, run ledger.Run) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status, pages)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status;
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, run.ID, run.StartedAt, string(run.Status), run.Pages); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// Finish writes the final counters and status.
func (s *Store) Finish(ctx context.Context, run ledger.Run) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, extracted = $3, normalized = $4,
			loaded = $5, failed = $6, checkpoint = $7, error_message = $8
		WHERE id = $9;
	`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		run.FinishedAt,
		string(run.Status),
		run.Extracted,
		run.Normalized,
		run.Loaded,
		run.Failed,
		run.Checkpoint,
		run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

const selectColumns = `id, started_at, finished_at, status, pages, extracted, normalized, loaded, failed, checkpoint, error_message`

// GetRun retrieves a single run by its ID.
func (s *Store) GetRun(ctx context.Context, id string) (ledger.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1;`, selectColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Run{}, ledger.ErrNotFound
		}
		return ledger.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *Store) ListRuns(ctx context.Context, status *ledger.Status, limit, offset int) ([]ledger.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, selectColumns, s.table)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []ledger.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (ledger.Run, error) {
	var (
		run    ledger.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Pages,
		&run.Extracted,
		&run.Normalized,
		&run.Loaded,
		&run.Failed,
		&run.Checkpoint,
		&run.ErrorMessage,
	)
	run.Status = ledger.Status(status)
	return run, err
}
