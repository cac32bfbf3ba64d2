package embedding

import (
	"context"
	"sync"
)

// BuildFunc constructs the underlying embedder.
type BuildFunc func() (Embedder, error)

// LazyEmbedder defers building its embedder until the first embedding request.
// Runs that embed nothing never load a model. A failed build is retried on the next call.
type LazyEmbedder struct {
	dimensions int
	build      BuildFunc

	mu    sync.Mutex
	inner Embedder
}

// NewLazyEmbedder returns an embedder that reports dimensions and calls build on first use.
func NewLazyEmbedder(dimensions int, build BuildFunc) *LazyEmbedder {
	return &LazyEmbedder{dimensions: dimensions, build: build}
}

func (l *LazyEmbedder) get() (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner != nil {
		return l.inner, nil
	}
	inner, err := l.build()
	if err != nil {
		return nil, err
	}
	l.inner = inner
	return inner, nil
}

// Embed builds the embedder if needed and embeds text.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	inner, err := l.get()
	if err != nil {
		return nil, err
	}
	return inner.Embed(ctx, text)
}

// EmbedBatch builds the embedder if needed. Empty input never builds it.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	inner, err := l.get()
	if err != nil {
		return nil, err
	}
	return inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the configured width without building the embedder.
func (l *LazyEmbedder) Dimensions() int {
	return l.dimensions
}

// Built reports whether the embedder has been constructed.
func (l *LazyEmbedder) Built() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner != nil
}

// Close closes the embedder if it was built.
func (l *LazyEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return nil
	}
	err := l.inner.Close()
	l.inner = nil
	return err
}
