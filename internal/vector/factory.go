package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragsync/internal/config"
	"go.uber.org/zap"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for small corpora (<10k vectors).
	IndexTypeMemory IndexType = config.VectorMemory
	// IndexTypeHNSW uses a pure Go HNSW graph for approximate search.
	IndexTypeHNSW IndexType = config.VectorHNSW
	// IndexTypeFAISS uses FAISS. Requires the FAISS C library and -tags=faiss.
	IndexTypeFAISS IndexType = config.VectorFAISS
	// IndexTypePGVector stores vectors in Postgres with the pgvector extension.
	IndexTypePGVector IndexType = config.VectorPGVector
)

// NewVectorIndex creates an empty vector index of the specified type.
func NewVectorIndex(ctx context.Context, indexType string, dimensions int, opts ...Option) (VectorIndex, error) {
	o := buildOptions(opts)
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeHNSW:
		return NewHNSWIndex(dimensions, o.hnswM, o.hnswEfSearch)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	case IndexTypePGVector:
		if o.pgDSN == "" {
			return nil, fmt.Errorf("%w: pgvector requires a connection string", config.ErrInvalid)
		}
		return NewPGVectorIndex(ctx, o.pgDSN, o.pgTable, dimensions, o.logger)
	default:
		return nil, fmt.Errorf("%w: unknown index type: %s (supported: memory, hnsw, faiss, pgvector)", config.ErrInvalid, indexType)
	}
}

// Open creates an index of indexType with the declared dimensions and loads the
// persisted state at path if there is any. A persisted index of another width
// fails with ErrDimensionMismatch.
func Open(ctx context.Context, indexType, path string, dimensions int, opts ...Option) (VectorIndex, error) {
	idx, err := NewVectorIndex(ctx, indexType, dimensions, opts...)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(path); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("load %s index: %w", indexType, err)
	}
	buildOptions(opts).logger.Debug("vector index opened",
		zap.String("type", idx.Type()), zap.String("path", path), zap.Int("size", idx.Size()))
	return idx, nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
