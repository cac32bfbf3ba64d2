// Package search answers nearest-chunk queries against the committed generation.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/embedding"
	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/vector"
)

// DefaultK is the number of hits returned when k <= 0.
const DefaultK = 10

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// ErrKeywordDisabled is returned by KeywordSearch when no keyword mirror is configured.
var ErrKeywordDisabled = errors.New("keyword index is not enabled")

// Hit is a single retrieved chunk.
type Hit struct {
	Record   models.ChunkRecord `json:"record"`
	Score    float64            `json:"score"`
	Distance float64            `json:"distance,omitempty"`
}

// Searcher embeds queries and resolves nearest ids through the generation store.
// Ids the committed generation does not know are dropped, so hits never point at
// chunks from an uncommitted run.
type Searcher struct {
	layout      config.DataConfig
	embedder    embedding.Embedder
	openIndex   indexer.IndexOpener
	openStore   indexer.StoreOpener
	openKeyword indexer.KeywordOpener
	logger      *zap.Logger

	mu       sync.Mutex
	index    vector.VectorIndex
	indexMod time.Time
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKeywordOpener enables KeywordSearch.
func WithKeywordOpener(fn indexer.KeywordOpener) Option {
	return func(s *Searcher) { s.openKeyword = fn }
}

// NewSearcher creates a Searcher over the data layout. The embedder must be the one
// the index was built with.
func NewSearcher(
	layout config.DataConfig,
	embedder embedding.Embedder,
	openIndex indexer.IndexOpener,
	openStore indexer.StoreOpener,
	opts ...Option,
) *Searcher {
	s := &Searcher{
		layout:    layout,
		embedder:  embedder,
		openIndex: openIndex,
		openStore: openStore,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig wires a Searcher to the backends named by cfg.
func FromConfig(cfg *config.Config, embedder embedding.Embedder, logger *zap.Logger) *Searcher {
	opts := []Option{WithLogger(logger)}
	if cfg.Keyword.Enabled {
		opts = append(opts, WithKeywordOpener(func(path string) (keyword.Index, error) {
			return keyword.NewBleveIndex(path, keyword.WithLogger(logger))
		}))
	}
	return NewSearcher(cfg.Data, embedder,
		indexer.ConfiguredIndexOpener(cfg, logger),
		indexer.ConfiguredStoreOpener(cfg, logger),
		opts...)
}

// Search returns up to k chunks nearest to query, best first.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultK
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.currentIndex(ctx)
	if err != nil {
		return nil, err
	}
	results, err := idx.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	records, err := s.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		rec, ok := records[r.ID]
		if !ok {
			s.logger.Debug("dropping hit without committed record", zap.Int64("id", r.ID))
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: r.Score, Distance: r.Distance})
	}
	return hits, nil
}

// KeywordSearch runs a full-text query over the keyword mirror.
func (s *Searcher) KeywordSearch(ctx context.Context, query string, k int, opts *keyword.SearchOptions) ([]Hit, error) {
	if s.openKeyword == nil {
		return nil, ErrKeywordDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultK
	}
	kw, err := s.openKeyword(s.layout.KeywordIndexPath())
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	results, err := kw.Search(ctx, query, k, opts)
	_ = kw.Close()
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	records, err := s.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if rec, ok := records[r.ID]; ok {
			hits = append(hits, Hit{Record: rec, Score: r.Score})
		}
	}
	return hits, nil
}

// Close releases the cached vector index.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

// currentIndex returns the cached index, reopening it when the persisted files
// changed since it was loaded. Must be called with s.mu held.
func (s *Searcher) currentIndex(ctx context.Context) (vector.VectorIndex, error) {
	path := s.layout.IndexPath()
	mod := latestModTime(path, path+".meta")
	if s.index != nil && mod.Equal(s.indexMod) {
		return s.index, nil
	}
	idx, err := s.openIndex(ctx, path, s.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if s.index != nil {
		_ = s.index.Close()
	}
	s.index, s.indexMod = idx, mod
	s.logger.Debug("search index loaded", zap.String("path", path), zap.Int("size", idx.Size()))
	return idx, nil
}

func (s *Searcher) lookup(ctx context.Context, ids []int64) (map[int64]models.ChunkRecord, error) {
	store, err := s.openStore(s.layout.GenerationPath())
	if err != nil {
		return nil, fmt.Errorf("open generation store: %w", err)
	}
	defer store.Close()
	records, err := store.Lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup chunks: %w", err)
	}
	return records, nil
}

func latestModTime(paths ...string) time.Time {
	var latest time.Time
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}
