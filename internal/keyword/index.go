// Package keyword mirrors chunk text into a full-text index for keyword lookup.
package keyword

import (
	"context"

	"github.com/hyperjump/ragsync/internal/models"
)

// SearchOptions are optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// SourceBoost multiplies the score contribution from matches in the source path.
	// Values > 1 make path matches rank higher. Use 1.0 for no boost.
	SourceBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 2.
	Fuzziness int
}

// Index is a keyword mirror of the committed chunk set, keyed by chunk id.
type Index interface {
	// Upsert indexes records, replacing any existing entry with the same id.
	Upsert(ctx context.Context, records []models.ChunkRecord) error
	// Delete removes ids. Unknown ids are ignored.
	Delete(ctx context.Context, ids []int64) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error)
	// DocCount returns the number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword hit.
type Result struct {
	ID    int64
	Score float64
}
