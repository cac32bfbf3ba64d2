package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/corpus"
	"github.com/hyperjump/ragsync/internal/embedding"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/reconcile"
	"github.com/hyperjump/ragsync/internal/storage"
	"github.com/hyperjump/ragsync/internal/vector"
)

// IndexOpener opens the vector index persisted at path, creating it with dims when absent.
type IndexOpener func(ctx context.Context, path string, dims int) (vector.VectorIndex, error)

// StoreOpener opens the generation store at path.
type StoreOpener func(path string) (storage.GenerationStore, error)

// KeywordOpener opens the keyword mirror at path.
type KeywordOpener func(path string) (keyword.Index, error)

// RunOptions override the configured corpus and data layout for one run.
// Zero values fall back to the configuration.
type RunOptions struct {
	CorpusRoot string
	IgnoreDirs []string
	DataDir    string
	// Full re-chunks every document instead of reusing unchanged ones.
	Full bool
	// DryRun reconciles and reports without embedding, mutating or committing.
	DryRun bool
}

// Syncer reconciles the corpus with the vector index and the generation store.
type Syncer struct {
	cfg          *config.Config
	chunker      *Chunker
	embedder     embedding.Embedder
	ownsEmbedder bool
	openIndex    IndexOpener
	openStore    StoreOpener
	openKeyword  KeywordOpener
	loader       *corpus.Loader
	logger       *zap.Logger

	mu   sync.Mutex
	last *models.SyncSummary
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. Run log lines carry the run id.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEmbedder replaces the configured embedder. The caller keeps ownership.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Syncer) { s.embedder = e }
}

// WithIndexOpener replaces the configured vector index backend.
func WithIndexOpener(fn IndexOpener) Option {
	return func(s *Syncer) { s.openIndex = fn }
}

// WithStoreOpener replaces the configured generation store backend.
func WithStoreOpener(fn StoreOpener) Option {
	return func(s *Syncer) { s.openStore = fn }
}

// WithKeywordOpener enables the keyword mirror with fn regardless of configuration.
func WithKeywordOpener(fn KeywordOpener) Option {
	return func(s *Syncer) { s.openKeyword = fn }
}

// NewSyncer validates cfg and wires the configured collaborators.
func NewSyncer(cfg *config.Config, opts ...Option) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chunker, err := NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	s := &Syncer{cfg: cfg, chunker: chunker, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.embedder == nil {
		e, err := embedding.New(cfg.Embedding, s.logger)
		if err != nil {
			return nil, err
		}
		s.embedder = e
		s.ownsEmbedder = true
	}
	if s.openIndex == nil {
		s.openIndex = ConfiguredIndexOpener(cfg, s.logger)
	}
	if s.openStore == nil {
		s.openStore = ConfiguredStoreOpener(cfg, s.logger)
	}
	if s.openKeyword == nil && cfg.Keyword.Enabled {
		s.openKeyword = func(path string) (keyword.Index, error) {
			return keyword.NewBleveIndex(path, keyword.WithLogger(s.logger))
		}
	}
	s.loader = corpus.NewLoader(corpus.WithWorkers(cfg.Sync.Workers), corpus.WithLogger(s.logger))
	return s, nil
}

// ConfiguredIndexOpener opens the vector backend named by cfg.Vector.
func ConfiguredIndexOpener(cfg *config.Config, logger *zap.Logger) IndexOpener {
	return func(ctx context.Context, path string, dims int) (vector.VectorIndex, error) {
		return vector.Open(ctx, cfg.Vector.Type, path, dims,
			vector.WithLogger(logger),
			vector.WithHNSWParams(cfg.Vector.HNSWM, cfg.Vector.HNSWEfSearch),
			vector.WithPostgres(cfg.Vector.PGDSN, cfg.Vector.PGTable),
		)
	}
}

// ConfiguredStoreOpener opens the generation backend named by cfg.Generation.
func ConfiguredStoreOpener(cfg *config.Config, logger *zap.Logger) StoreOpener {
	return func(path string) (storage.GenerationStore, error) {
		return storage.NewGenerationStore(cfg.Generation.Backend, path, storage.WithLogger(logger))
	}
}

// Close releases the embedder when the Syncer created it.
func (s *Syncer) Close() error {
	if s.ownsEmbedder {
		return s.embedder.Close()
	}
	return nil
}

// Layout returns the data layout a run with opts uses.
func (s *Syncer) Layout(opts RunOptions) config.DataConfig {
	layout := s.cfg.Data
	if opts.DataDir != "" {
		layout.Dir = opts.DataDir
	}
	return layout
}

// Run performs one reconciliation pass. The generation is committed only after the
// vector index (and keyword mirror, when enabled) has been updated and persisted; on
// any error before that point the previous generation stays authoritative.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (*models.SyncSummary, error) {
	summary := &models.SyncSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
	}
	log := s.logger.With(zap.String("run_id", summary.RunID))

	root := s.cfg.Corpus.Root
	if opts.CorpusRoot != "" {
		root = opts.CorpusRoot
	}
	ignore := s.cfg.Corpus.IgnoreDirs
	if opts.IgnoreDirs != nil {
		ignore = opts.IgnoreDirs
	}
	layout := s.Layout(opts)

	if !opts.DryRun {
		lock, err := AcquireRunLock(layout.Dir)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn("failed to release run lock", zap.Error(err))
			}
		}()
	}

	var (
		store    storage.GenerationStore
		previous []models.ChunkRecord
	)
	if !opts.DryRun || fileExists(layout.GenerationPath()) {
		var err error
		if store, err = s.openStore(layout.GenerationPath()); err != nil {
			return nil, fmt.Errorf("open generation store: %w", err)
		}
		defer store.Close()
		if previous, err = store.LoadPrevious(ctx); err != nil {
			return nil, fmt.Errorf("load previous generation: %w", err)
		}
	}
	ledger, err := storage.LoadLedger(layout.LedgerPath(), storage.WithLogger(log))
	if err != nil {
		return nil, err
	}

	names, err := corpus.Enumerate(root, ignore, s.cfg.Corpus.Extensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	log.Debug("sync started",
		zap.String("root", root), zap.String("data_dir", layout.Dir),
		zap.Int("documents", len(names)), zap.Int("previous_records", len(previous)))

	current, err := s.buildGeneration(ctx, log, root, names, previous, ledger, !opts.Full, summary)
	if err != nil {
		return nil, err
	}

	result := reconcile.Reconcile(previous, current)
	summary.ChunksAdded = len(result.ToAdd)
	summary.ChunksDeleted = len(result.ToDelete)
	summary.ChunksUnchanged = result.Unchanged

	if opts.DryRun {
		summary.Duration = time.Since(summary.StartedAt)
		log.Info("dry run complete", summaryFields(summary)...)
		return summary, nil
	}

	if err := s.apply(ctx, log, layout, previous, current, result); err != nil {
		log.Error("sync failed, previous generation kept", zap.Error(err))
		return nil, err
	}

	if err := store.Commit(ctx, current); err != nil {
		return nil, fmt.Errorf("commit generation: %w", err)
	}
	if dropped := ledger.Prune(); len(dropped) > 0 {
		log.Debug("ledger pruned", zap.Strings("paths", dropped))
	}
	if err := ledger.Save(); err != nil {
		return nil, fmt.Errorf("save ledger: %w", err)
	}

	summary.Duration = time.Since(summary.StartedAt)
	log.Info("sync complete", summaryFields(summary)...)
	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	return summary, nil
}

// buildGeneration chunks the corpus into the current record set. With reuse on,
// documents whose whole-file hash is unchanged contribute their previous records,
// unless the ledger was written with different (or unrecorded) chunker settings.
// Documents that cannot be read keep their previous records.
func (s *Syncer) buildGeneration(
	ctx context.Context,
	log *zap.Logger,
	root string,
	names []string,
	previous []models.ChunkRecord,
	ledger *storage.Ledger,
	allowReuse bool,
	summary *models.SyncSummary,
) ([]models.ChunkRecord, error) {
	bySource := make(map[string][]models.ChunkRecord)
	for _, rec := range previous {
		bySource[rec.Source] = append(bySource[rec.Source], rec)
	}
	reuse := allowReuse && s.cfg.Sync.ReuseUnchangedOrDefault()
	want := storage.ChunkParams{Size: s.chunker.Size(), Overlap: s.chunker.Overlap()}
	if got, ok := ledger.ChunkParams(); reuse && got != want {
		if ok {
			log.Info("chunking changed, re-chunking every document",
				zap.Int("previous_size", got.Size), zap.Int("previous_overlap", got.Overlap),
				zap.Int("size", want.Size), zap.Int("overlap", want.Overlap))
		}
		reuse = false
	}
	ledger.SetChunkParams(want)

	needsText := func(name, hash string) bool {
		changed := ledger.NeedsProcessing(name, hash)
		return !reuse || changed || len(bySource[name]) == 0
	}
	loaded, err := s.loader.Load(ctx, root, names, needsText)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	var current []models.ChunkRecord
	for _, doc := range loaded.Documents {
		if doc.Reuse {
			current = append(current, bySource[doc.Name]...)
			summary.DocumentsReused++
			continue
		}
		current = append(current, s.chunker.Chunk(doc.Name, doc.Text)...)
	}
	for _, name := range loaded.Skipped {
		ledger.Revert(name)
		if kept := bySource[name]; len(kept) > 0 {
			log.Warn("keeping previous chunks of unreadable document",
				zap.String("path", name), zap.Int("chunks", len(kept)))
			current = append(current, kept...)
		}
	}
	summary.Documents = len(loaded.Documents)
	summary.DocumentsSkipped = len(loaded.Skipped)
	return current, nil
}

// apply embeds the additions and brings the vector index and keyword mirror in line
// with result, persisting both. Nothing is opened when result is empty, except a
// keyword mirror that still has to be populated.
func (s *Syncer) apply(
	ctx context.Context,
	log *zap.Logger,
	layout config.DataConfig,
	previous, current []models.ChunkRecord,
	result models.ReconciliationResult,
) error {
	if !result.Empty() {
		if err := s.applyVectors(ctx, log, layout, result); err != nil {
			return err
		}
	}
	if s.openKeyword == nil {
		return nil
	}
	return s.applyKeyword(ctx, log, layout, previous, current, result)
}

func (s *Syncer) applyVectors(ctx context.Context, log *zap.Logger, layout config.DataConfig, result models.ReconciliationResult) error {
	dims := s.embedder.Dimensions()

	var vectors [][]float32
	if len(result.ToAdd) > 0 {
		texts := make([]string, len(result.ToAdd))
		for i, rec := range result.ToAdd {
			texts[i] = rec.Text
		}
		var err error
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(texts))
		}
		for i, v := range vectors {
			if len(v) != dims {
				return fmt.Errorf("embed: %w: chunk %d has width %d, embedder declares %d",
					vector.ErrDimensionMismatch, result.ToAdd[i].ID, len(v), dims)
			}
		}
		log.Debug("embedded chunks", zap.Int("count", len(vectors)))
	}

	idx, err := s.openIndex(ctx, layout.IndexPath(), dims)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	if len(result.ToAdd) > 0 {
		ids := make([]int64, len(result.ToAdd))
		for i, rec := range result.ToAdd {
			ids[i] = rec.ID
		}
		if err := idx.Add(ctx, ids, vectors); err != nil {
			return fmt.Errorf("index add: %w", err)
		}
	}
	if len(result.ToDelete) > 0 {
		if err := idx.Remove(ctx, recordIDs(result.ToDelete)); err != nil {
			return fmt.Errorf("index remove: %w", err)
		}
	}
	if err := idx.Save(layout.IndexPath()); err != nil {
		return fmt.Errorf("index persist: %w", err)
	}
	log.Debug("vector index updated",
		zap.String("type", idx.Type()), zap.Int("size", idx.Size()))
	return nil
}

// applyKeyword mirrors the add and delete sets. A mirror that is empty while the
// previous generation is not is rebuilt from the whole current generation.
func (s *Syncer) applyKeyword(
	ctx context.Context,
	log *zap.Logger,
	layout config.DataConfig,
	previous, current []models.ChunkRecord,
	result models.ReconciliationResult,
) error {
	kw, err := s.openKeyword(layout.KeywordIndexPath())
	if err != nil {
		return fmt.Errorf("open keyword index: %w", err)
	}
	defer kw.Close()

	toIndex := result.ToAdd
	if n, err := kw.DocCount(); err == nil && n == 0 && len(previous) > 0 {
		log.Info("rebuilding keyword index from current generation")
		toIndex = reconcile.Distinct(current)
	}
	if err := kw.Upsert(ctx, toIndex); err != nil {
		return fmt.Errorf("keyword sync: %w", err)
	}
	if err := kw.Delete(ctx, recordIDs(result.ToDelete)); err != nil {
		return fmt.Errorf("keyword sync: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func recordIDs(records []models.ChunkRecord) []int64 {
	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids
}

func summaryFields(s *models.SyncSummary) []zap.Field {
	return []zap.Field{
		zap.Int("added", s.ChunksAdded),
		zap.Int("deleted", s.ChunksDeleted),
		zap.Int("unchanged", s.ChunksUnchanged),
		zap.Int("documents", s.Documents),
		zap.Int("skipped", s.DocumentsSkipped),
		zap.Int("reused", s.DocumentsReused),
		zap.Duration("duration", s.Duration),
	}
}

// RunSync builds a Syncer from cfg and runs it once with the configured layout.
func RunSync(ctx context.Context, cfg *config.Config, opts ...Option) (*models.SyncSummary, error) {
	s, err := NewSyncer(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Run(ctx, RunOptions{})
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalid)
}
