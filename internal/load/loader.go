// Package load writes normalized documents to an index with update-with-upsert
// semantics.
package load

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/clock"
	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/metrics"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

// ErrStoreUnavailable is returned when the index cannot be reached.
var ErrStoreUnavailable = errors.New("index store unavailable")

// Result summarizes one load.
type Result struct {
	Submitted int              `json:"submitted"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Errors    []index.DocError `json:"errors,omitempty"`
}

// Failed reports how many submitted documents were rejected.
func (r Result) Failed() int {
	return len(r.Errors)
}

// Config wires the loader.
type Config struct {
	// Open returns a fresh connection for every Load call.
	Open    index.Opener
	Index   string
	Mapping review.Mapping
	Clock   review.Clock
}

// Loader upserts documents into one index.
type Loader struct {
	open    index.Opener
	index   string
	mapping review.Mapping
	clock   review.Clock
	logger  *zap.Logger
}

// New creates a Loader. Mapping defaults to review.DefaultMapping.
func New(cfg Config, logger *zap.Logger) (*Loader, error) {
	if cfg.Open == nil {
		return nil, fmt.Errorf("index opener is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if cfg.Mapping.Fields == nil {
		cfg.Mapping = review.DefaultMapping()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		open:    cfg.Open,
		index:   cfg.Index,
		mapping: cfg.Mapping,
		clock:   cfg.Clock,
		logger:  logger,
	}, nil
}

// Load pings the store, ensures the index exists, then submits one batch of
// update-with-upsert operations. created_at is only set when a document is
// first inserted; updated_at is set on every load. Per-document failures
// do not fail the call.
func (l *Loader) Load(ctx context.Context, docs []review.Document) (Result, error) {
	store, err := l.open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			l.logger.Warn("close index store", zap.Error(cerr))
		}
	}()

	if err := store.Ping(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	created, err := store.EnsureIndex(ctx, l.index, l.mapping)
	if err != nil {
		return Result{}, fmt.Errorf("ensure index %s: %w", l.index, err)
	}
	if created {
		l.logger.Info("index created", zap.String("index", l.index))
	}

	if len(docs) == 0 {
		l.logger.Warn("no documents to load", zap.String("index", l.index))
		return Result{}, nil
	}

	now := l.clock.Now().UTC().Truncate(time.Second)
	ops := make([]index.Upsert, 0, len(docs))
	var result Result
	for _, doc := range docs {
		if doc.IDReview == "" {
			result.Skipped++
			l.logger.Warn("document without id_review skipped", zap.String("entity", doc.EnterpriseURL))
			continue
		}
		op, err := upsertFor(doc, now)
		if err != nil {
			result.Errors = append(result.Errors, index.DocError{ID: doc.IDReview, Reason: err.Error()})
			continue
		}
		ops = append(ops, op)
	}
	result.Submitted = len(ops)

	bulk, err := store.BulkUpsert(ctx, l.index, ops)
	result.Succeeded = bulk.Succeeded
	result.Errors = append(result.Errors, bulk.Errors...)
	l.observe(result)
	if err != nil {
		return result, fmt.Errorf("bulk upsert: %w", err)
	}

	for _, e := range bulk.Errors {
		l.logger.Warn("document rejected", zap.String("id_review", e.ID), zap.String("reason", e.Reason))
	}
	l.logger.Info("load finished",
		zap.String("index", l.index),
		zap.Int("submitted", result.Submitted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed()),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func upsertFor(doc review.Document, now time.Time) (index.Upsert, error) {
	doc.CreatedAt = nil
	doc.UpdatedAt = &now
	update, err := json.Marshal(doc)
	if err != nil {
		return index.Upsert{}, fmt.Errorf("encode document: %w", err)
	}
	doc.CreatedAt = &now
	insert, err := json.Marshal(doc)
	if err != nil {
		return index.Upsert{}, fmt.Errorf("encode document: %w", err)
	}
	return index.Upsert{ID: doc.IDReview, Doc: update, Insert: insert}, nil
}

func (l *Loader) observe(r Result) {
	metrics.ObserveDocuments("succeeded", r.Succeeded)
	metrics.ObserveDocuments("failed", r.Failed())
	metrics.ObserveDocuments("skipped", r.Skipped)
}
