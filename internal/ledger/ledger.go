// Package ledger records pipeline runs.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

// Run states.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ParseStatus maps user input onto a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRunning, StatusSucceeded, StatusPartial, StatusFailed:
		return Status(s), nil
	default:
		return "", errors.New("invalid status")
	}
}

// Run is one ledger row.
type Run struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       Status     `json:"status"`
	Pages        int        `json:"pages"`
	Extracted    int        `json:"extracted"`
	Normalized   int        `json:"normalized"`
	Loaded       int        `json:"loaded"`
	Failed       int        `json:"failed"`
	Checkpoint   string     `json:"checkpoint,omitempty"`
	ErrorMessage *string    `json:"error,omitempty"`
}

// Recorder writes run rows.
type Recorder interface {
	Start(ctx context.Context, run Run) error
	Finish(ctx context.Context, run Run) error
}

// Repository reads run rows.
type Repository interface {
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, status *Status, limit, offset int) ([]Run, error)
}

// Nop discards every record.
type Nop struct{}

// Start does nothing.
func (Nop) Start(context.Context, Run) error { return nil }

// Finish does nothing.
func (Nop) Finish(context.Context, Run) error { return nil }
