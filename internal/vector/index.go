// Package vector provides the vector index backends the sync pipeline mutates.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ragsync/internal/config"
	"go.uber.org/zap"
)

// ErrDimensionMismatch is returned when vectors, queries or a persisted index do not
// match the index dimensionality. It is a configuration error.
var ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", config.ErrInvalid)

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("vector index is closed")

// VectorIndex stores (id, vector) pairs keyed by non-negative 63-bit chunk ids.
// Add replaces the vector of an id that is already present. Remove ignores unknown ids.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Remove(ctx context.Context, ids []int64) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Result is a single search hit. Distance is squared L2; Score is 1/(1+Distance).
type Result struct {
	ID       int64
	Distance float64
	Score    float64
}

// Option configures index construction.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	hnswM        int
	hnswEfSearch int
	pgDSN        string
	pgTable      string
}

// WithLogger sets a logger for index lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHNSWParams sets the HNSW graph degree and search width.
func WithHNSWParams(m, efSearch int) Option {
	return func(o *options) {
		o.hnswM = m
		o.hnswEfSearch = efSearch
	}
}

// WithPostgres sets the connection string and table of the pgvector backend.
func WithPostgres(dsn, table string) Option {
	return func(o *options) {
		o.pgDSN = dsn
		o.pgTable = table
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		hnswM:        16,
		hnswEfSearch: 20,
		pgTable:      "ragsync_vectors",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func checkBatch(ids []int64, vectors [][]float32, dims int) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, index expects %d", ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}

func checkQuery(query []float32, dims int) error {
	if len(query) != dims {
		return fmt.Errorf("%w: query has %d dimensions, index expects %d", ErrDimensionMismatch, len(query), dims)
	}
	return nil
}
