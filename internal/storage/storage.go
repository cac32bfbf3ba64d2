// Package storage persists the generation snapshot and the whole-file hash ledger.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/models"
	"go.uber.org/zap"
)

// GenerationStore holds the chunk set as of the last successful run.
type GenerationStore interface {
	// LoadPrevious returns the committed generation in stored order. A store that has
	// never been committed returns an empty slice and no error.
	LoadPrevious(ctx context.Context) ([]models.ChunkRecord, error)
	// Commit atomically replaces the committed generation with records.
	Commit(ctx context.Context, records []models.ChunkRecord) error
	// Lookup returns the committed records for ids. Unknown ids are omitted.
	Lookup(ctx context.Context, ids []int64) (map[int64]models.ChunkRecord, error)
	Close() error
}

// Option configures a store or ledger.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets a logger; skipped records and lines are reported at warn level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// NewGenerationStore opens the generation store for backend at path.
func NewGenerationStore(backend, path string, opts ...Option) (GenerationStore, error) {
	switch backend {
	case config.GenerationJSONL, "":
		return NewJSONLStore(path, opts...), nil
	case config.GenerationSQLite:
		return NewSQLiteStore(path, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown generation backend %q", config.ErrInvalid, backend)
	}
}

// lookupIn indexes records by id, keeping the first record for each requested id.
func lookupIn(records []models.ChunkRecord, ids []int64) map[int64]models.ChunkRecord {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[int64]models.ChunkRecord, len(ids))
	for _, rec := range records {
		if _, ok := want[rec.ID]; !ok {
			continue
		}
		if _, dup := out[rec.ID]; !dup {
			out[rec.ID] = rec
		}
	}
	return out
}
