// Package embedding maps chunk text to fixed-width vectors.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers with fewer vectors than requested.
var ErrEmptyResponse = errors.New("embedding provider returned no vectors")

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per
// input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
