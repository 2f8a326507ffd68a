// Package memory is an in-process index with strict mapping enforcement.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/review-pipeline/internal/index"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

type memIndex struct {
	mapping review.Mapping
	docs    map[string]map[string]any
}

var _ index.ReadStore = (*Store)(nil)

// Store keeps indices in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*memIndex
	pingErr error
}

// New creates an empty Store.
func New() *Store {
	return &Store{indices: make(map[string]*memIndex)}
}

// SetPingError makes Ping fail with err; nil restores it.
func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Ping reports the configured ping error.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingErr
}

// EnsureIndex creates the index when absent.
func (s *Store) EnsureIndex(_ context.Context, name string, m review.Mapping) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; ok {
		return false, nil
	}
	s.indices[name] = &memIndex{mapping: m, docs: make(map[string]map[string]any)}
	return true, nil
}

// BulkUpsert applies each operation independently.
func (s *Store) BulkUpsert(_ context.Context, name string, ops []index.Upsert) (index.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return index.BulkResult{}, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}

	var result index.BulkResult
	for _, op := range ops {
		if err := idx.apply(op); err != nil {
			result.Errors = append(result.Errors, index.DocError{ID: op.ID, Reason: err.Error()})
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

func (idx *memIndex) apply(op index.Upsert) error {
	if op.ID == "" {
		return fmt.Errorf("document id is required")
	}
	existing, found := idx.docs[op.ID]
	source := op.Insert
	if found {
		source = op.Doc
	}
	var fields map[string]any
	if err := json.Unmarshal(source, &fields); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := idx.mapping.Validate(fields); err != nil {
		return err
	}
	if !found {
		idx.docs[op.ID] = fields
		return nil
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

// Count returns the number of documents in the index.
func (s *Store) Count(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	return int64(len(idx.docs)), nil
}

// Latest returns up to size documents ordered by id descending.
func (s *Store) Latest(_ context.Context, name string, size int) ([]review.Document, error) {
	return s.list(name, size, true)
}

// Sample returns up to size documents ordered by id.
func (s *Store) Sample(_ context.Context, name string, size int) ([]review.Document, error) {
	return s.list(name, size, false)
}

func (s *Store) list(name string, size int, desc bool) ([]review.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	ids := make([]string, 0, len(idx.docs))
	for id := range idx.docs {
		ids = append(ids, id)
	}
	if desc {
		sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	} else {
		sort.Strings(ids)
	}
	if size >= 0 && len(ids) > size {
		ids = ids[:size]
	}
	docs := make([]review.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := decodeDocument(idx.docs[id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Get returns one stored document.
func (s *Store) Get(_ context.Context, name, id string) (review.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return review.Document{}, false, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	fields, ok := idx.docs[id]
	if !ok {
		return review.Document{}, false, nil
	}
	doc, err := decodeDocument(fields)
	return doc, true, err
}

// Mapping returns the mapping the index was created with.
func (s *Store) Mapping(_ context.Context, name string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrIndexNotFound, name)
	}
	return map[string]any{name: idx.mapping.ElasticsearchBody()}, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func decodeDocument(fields map[string]any) (review.Document, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return review.Document{}, fmt.Errorf("encode document: %w", err)
	}
	var doc review.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return review.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
