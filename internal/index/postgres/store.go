// Package postgres implements the index store on a Postgres table keyed by id_review.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

var _ index.ReadStore = (*Store)(nil)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columns is the fixed column order used for inserts and reads.
var columns = []string{
	"id_review",
	"is_verified",
	"date_review",
	"id_user",
	"user_name",
	"user_review",
	"user_review_length",
	"user_rating",
	"date_response",
	"enterprise_response",
	"enterprise_name",
	"enterprise_url",
	"enterprise_rating",
	"enterprise_review_number",
	"enterprise_percentage_one_star",
	"enterprise_percentage_two_star",
	"enterprise_percentage_three_star",
	"enterprise_percentage_four_star",
	"enterprise_percentage_five_star",
	"created_at",
	"updated_at",
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Ping(context.Context) error
	Close()
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store keeps one table per index name.
type Store struct {
	pool    pool
	mapping review.Mapping
}

// New connects a pool. The connection is established lazily by pgxpool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, mapping: review.DefaultMapping()}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, mapping: review.DefaultMapping()}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureIndex creates the table when missing. Documents are validated
// against m before every write, which keeps the table strict.
func (s *Store) EnsureIndex(ctx context.Context, name string, m review.Mapping) (bool, error) {
	if !validTableName.MatchString(name) {
		return false, fmt.Errorf("invalid table name %q", name)
	}
	s.mapping = m

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	if exists {
		return false, nil
	}
	if _, err := s.pool.Exec(ctx, createTableSQL(name, m)); err != nil {
		return false, fmt.Errorf("create table %s: %w", name, err)
	}
	return true, nil
}

func createTableSQL(name string, m review.Mapping) string {
	defs := make([]string, 0, len(m.Fields))
	for _, col := range m.Names() {
		def := col + " " + sqlType(col, m.Fields[col])
		if col == "id_review" {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", name, strings.Join(defs, ",\n\t"))
}

func sqlType(col string, typ review.FieldType) string {
	switch typ {
	case review.Boolean:
		return "BOOLEAN"
	case review.Integer:
		return "INTEGER"
	case review.Float:
		return "DOUBLE PRECISION"
	case review.Date:
		if strings.HasSuffix(col, "_at") {
			return "TIMESTAMPTZ"
		}
		return "DATE"
	default:
		return "TEXT"
	}
}

// upsertSQL inserts a row or updates every column except id_review and created_at.
func upsertSQL(name string) string {
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "id_review" || col == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id_review) DO UPDATE SET %s",
		name,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// upsertBatchSize caps the rows sent in one round trip.
const upsertBatchSize = 500

type pendingRow struct {
	id   string
	args []any
}

// BulkUpsert pipelines the upserts in batches. A batch without explicit
// transaction control runs as one implicit transaction, so a failed batch is
// replayed row by row to keep one bad row from failing its neighbours.
func (s *Store) BulkUpsert(ctx context.Context, name string, ops []index.Upsert) (index.BulkResult, error) {
	if !validTableName.MatchString(name) {
		return index.BulkResult{}, fmt.Errorf("invalid table name %q", name)
	}
	query := upsertSQL(name)
	var result index.BulkResult
	rows := make([]pendingRow, 0, len(ops))
	for _, op := range ops {
		args, err := s.rowArgs(op)
		if err != nil {
			result.Errors = append(result.Errors, index.DocError{ID: op.ID, Reason: err.Error()})
			continue
		}
		rows = append(rows, pendingRow{id: op.ID, args: args})
	}

	for start := 0; start < len(rows); start += upsertBatchSize {
		chunk := rows[start:min(start+upsertBatchSize, len(rows))]
		if err := s.sendBatch(ctx, query, chunk); err == nil {
			result.Succeeded += len(chunk)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, row := range chunk {
			if _, err := s.pool.Exec(ctx, query, row.args...); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, ctxErr
				}
				result.Errors = append(result.Errors, index.DocError{ID: row.id, Reason: err.Error()})
				continue
			}
			result.Succeeded++
		}
	}
	return result, nil
}

func (s *Store) sendBatch(ctx context.Context, query string, rows []pendingRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.args...)
	}
	br := s.pool.SendBatch(ctx, batch)
	var batchErr error
	for _, row := range rows {
		if _, err := br.Exec(); err != nil {
			batchErr = fmt.Errorf("upsert %s: %w", row.id, err)
			break
		}
	}
	if err := br.Close(); err != nil && batchErr == nil {
		batchErr = fmt.Errorf("close batch: %w", err)
	}
	return batchErr
}

func (s *Store) rowArgs(op index.Upsert) ([]any, error) {
	if err := s.mapping.ValidateJSON(op.Doc); err != nil {
		return nil, err
	}
	if err := s.mapping.ValidateJSON(op.Insert); err != nil {
		return nil, err
	}
	var doc review.Document
	if err := json.Unmarshal(op.Insert, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.IDReview == "" {
		doc.IDReview = op.ID
	}
	dateReview, err := parseDate(doc.DateReview)
	if err != nil {
		return nil, err
	}
	dateResponse, err := parseDate(doc.DateResponse)
	if err != nil {
		return nil, err
	}
	return []any{
		doc.IDReview,
		doc.IsVerified,
		dateReview,
		doc.IDUser,
		doc.UserName,
		doc.UserReview,
		doc.UserReviewLength,
		doc.UserRating,
		dateResponse,
		doc.EnterpriseResponse,
		doc.EnterpriseName,
		doc.EnterpriseURL,
		doc.EnterpriseRating,
		doc.EnterpriseReviewNumber,
		doc.PercentageOneStar,
		doc.PercentageTwoStar,
		doc.PercentageThreeStar,
		doc.PercentageFourStar,
		doc.PercentageFiveStar,
		doc.CreatedAt,
		doc.UpdatedAt,
	}, nil
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", *s, err)
	}
	return &t, nil
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if !validTableName.MatchString(name) {
		return 0, fmt.Errorf("invalid table name %q", name)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+name).Scan(&n); err != nil {
		return 0, wrapMissing(fmt.Errorf("count %s: %w", name, err), name)
	}
	return n, nil
}

// Latest returns up to size rows ordered by id_review descending.
func (s *Store) Latest(ctx context.Context, name string, size int) ([]review.Document, error) {
	return s.list(ctx, name, "ORDER BY id_review DESC", size)
}

// Sample returns up to size rows.
func (s *Store) Sample(ctx context.Context, name string, size int) ([]review.Document, error) {
	return s.list(ctx, name, "", size)
}

func (s *Store) list(ctx context.Context, name, order string, size int) ([]review.Document, error) {
	if !validTableName.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s %s LIMIT $1", strings.Join(columns, ", "), name, order)
	rows, err := s.pool.Query(ctx, query, size)
	if err != nil {
		return nil, wrapMissing(fmt.Errorf("query %s: %w", name, err), name)
	}
	defer rows.Close()

	var docs []review.Document
	for rows.Next() {
		var (
			doc                      review.Document
			dateReview, dateResponse *time.Time
		)
		if err := rows.Scan(
			&doc.IDReview,
			&doc.IsVerified,
			&dateReview,
			&doc.IDUser,
			&doc.UserName,
			&doc.UserReview,
			&doc.UserReviewLength,
			&doc.UserRating,
			&dateResponse,
			&doc.EnterpriseResponse,
			&doc.EnterpriseName,
			&doc.EnterpriseURL,
			&doc.EnterpriseRating,
			&doc.EnterpriseReviewNumber,
			&doc.PercentageOneStar,
			&doc.PercentageTwoStar,
			&doc.PercentageThreeStar,
			&doc.PercentageFourStar,
			&doc.PercentageFiveStar,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", name, err)
		}
		doc.DateReview = formatDate(dateReview)
		doc.DateResponse = formatDate(dateResponse)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", name, err)
	}
	return docs, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}

// Mapping describes the table in the same shape as a search index mapping.
func (s *Store) Mapping(_ context.Context, name string) (map[string]any, error) {
	if !validTableName.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	return map[string]any{name: s.mapping.ElasticsearchBody()}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// undefinedTable is the Postgres SQLSTATE for a missing relation.
const undefinedTable = "42P01"

func wrapMissing(err error, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	return err
}
