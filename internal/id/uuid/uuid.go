// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings. Version 7 keeps records roughly
// time-ordered, which the revision history relies on for pagination.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
