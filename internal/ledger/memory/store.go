// Package memory keeps the run ledger in process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/review-pipeline/internal/ledger"
)

// Store is a concurrency-safe in-memory ledger.
type Store struct {
	mu   sync.RWMutex
	runs map[string]ledger.Run
}

// New creates an empty Store.
func New() *Store {
	return &Store{runs: make(map[string]ledger.Run)}
}

// Start records a new run.
func (s *Store) Start(_ context.Context, run ledger.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// Finish overwrites the run with its final state.
func (s *Store) Finish(_ context.Context, run ledger.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ledger.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(_ context.Context, id string) (ledger.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return ledger.Run{}, ledger.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(_ context.Context, status *ledger.Status, limit, offset int) ([]ledger.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]ledger.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if offset >= len(runs) {
		return []ledger.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
