// Package index defines the document store contract used by the loader and
// the read API.
package index

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/JakeFAU/review-pipeline/internal/review"
)

// ErrIndexNotFound is returned when an operation targets an index that does not exist.
var ErrIndexNotFound = errors.New("index not found")

// Upsert is one update-with-upsert operation. Doc is merged into an existing
// document with the same ID; Insert is stored when no such document exists.
type Upsert struct {
	ID     string
	Doc    json.RawMessage
	Insert json.RawMessage
}

// DocError reports a rejected operation.
type DocError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a batch. Operations not listed in Errors succeeded.
type BulkResult struct {
	Succeeded int
	Errors    []DocError
}

// Store is a write target for normalized documents.
type Store interface {
	Ping(ctx context.Context) error
	// EnsureIndex creates the index from m when absent and reports whether it did.
	EnsureIndex(ctx context.Context, name string, m review.Mapping) (bool, error)
	BulkUpsert(ctx context.Context, name string, ops []Upsert) (BulkResult, error)
	Close() error
}

// Reader serves the read API.
type Reader interface {
	Count(ctx context.Context, name string) (int64, error)
	// Latest returns up to size documents ordered by id_review descending.
	Latest(ctx context.Context, name string, size int) ([]review.Document, error)
	// Sample returns up to size documents in no particular order.
	Sample(ctx context.Context, name string, size int) ([]review.Document, error)
	Mapping(ctx context.Context, name string) (map[string]any, error)
}

// ReadStore is a Store that also serves reads.
type ReadStore interface {
	Store
	Reader
}

// Opener opens a fresh store connection.
type Opener func(ctx context.Context) (Store, error)
