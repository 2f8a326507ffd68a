// Package id generates run and request identifiers.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, which sort by creation time.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}

// MustNewID returns a UUIDv7 string, falling back to a random v4 when the
// v7 source fails.
func (g Generator) MustNewID() string {
	if v, err := g.NewID(); err == nil {
		return v
	}
	return uuid.NewString()
}
