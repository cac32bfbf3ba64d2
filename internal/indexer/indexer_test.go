package indexer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/embedding"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/storage"
	"github.com/hyperjump/ragsync/internal/vector"
)

const testDims = 8

// env is a corpus root and data dir wired to a mock embedder and a memory index.
type env struct {
	t    *testing.T
	root string
	data string
	cfg  *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Corpus.Root = filepath.Join(base, "knowledge")
	cfg.Data.Dir = filepath.Join(base, "data")
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimensions = testDims
	cfg.Vector.Type = config.VectorMemory
	cfg.Sync.Workers = 2
	require.NoError(t, os.MkdirAll(cfg.Corpus.Root, 0o755))
	return &env{t: t, root: cfg.Corpus.Root, data: cfg.Data.Dir, cfg: cfg}
}

func (e *env) write(name, content string) {
	e.t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(name))
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o600))
}

func (e *env) remove(name string) {
	e.t.Helper()
	require.NoError(e.t, os.Remove(filepath.Join(e.root, filepath.FromSlash(name))))
}

func (e *env) syncer(opts ...Option) *Syncer {
	e.t.Helper()
	s, err := NewSyncer(e.cfg, opts...)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = s.Close() })
	return s
}

func (e *env) run(opts ...Option) *models.SyncSummary {
	e.t.Helper()
	summary, err := e.syncer(opts...).Run(context.Background(), RunOptions{})
	require.NoError(e.t, err)
	return summary
}

func (e *env) generation() []models.ChunkRecord {
	e.t.Helper()
	recs, err := storage.NewJSONLStore(e.cfg.Data.GenerationPath()).LoadPrevious(context.Background())
	require.NoError(e.t, err)
	return recs
}

func (e *env) index() *vector.MemoryIndex {
	e.t.Helper()
	idx, err := vector.Open(context.Background(), config.VectorMemory, e.cfg.Data.IndexPath(), testDims)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = idx.Close() })
	return idx.(*vector.MemoryIndex)
}

// prose returns n characters of non-repeating text.
func prose(seed string, n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "%s%d ", seed, i)
	}
	return b.String()[:n]
}

func sources(recs []models.ChunkRecord) map[string]int {
	out := map[string]int{}
	for _, r := range recs {
		out[r.Source]++
	}
	return out
}

func TestSync_newDocumentIsChunkedAndAdded(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))

	summary := e.run()
	assert.Equal(t, 2, summary.ChunksAdded)
	assert.Equal(t, 0, summary.ChunksDeleted)
	assert.Equal(t, 0, summary.ChunksUnchanged)
	assert.Equal(t, 1, summary.Documents)
	assert.NotEmpty(t, summary.RunID)

	gen := e.generation()
	require.Len(t, gen, 2)
	idx := e.index()
	assert.Equal(t, 2, idx.Size())
	for _, rec := range gen {
		assert.Equal(t, "a.md", rec.Source)
		assert.True(t, idx.Contains(rec.ID))
	}
}

func TestSync_deletedDocumentIsRemoved(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))
	e.write("b.md", prose("b", 500))
	e.run()
	var gone []int64
	for _, rec := range e.generation() {
		if rec.Source == "a.md" {
			gone = append(gone, rec.ID)
		}
	}
	require.Len(t, gone, 2)

	e.remove("a.md")
	summary := e.run()
	assert.Equal(t, 0, summary.ChunksAdded)
	assert.Equal(t, 2, summary.ChunksDeleted)
	assert.Equal(t, 1, summary.ChunksUnchanged)

	assert.Equal(t, map[string]int{"b.md": 1}, sources(e.generation()))
	idx := e.index()
	assert.Equal(t, 1, idx.Size())
	for _, id := range gone {
		assert.False(t, idx.Contains(id))
	}
}

func TestSync_editedChunkMatchingOtherDocumentIsNotReadded(t *testing.T) {
	e := newEnv(t)
	shared := prose("shared", 600)
	e.write("a.md", prose("a", 1200))
	e.write("b.md", shared)
	e.run()

	e.write("a.md", shared)
	summary := e.run()
	assert.Equal(t, 0, summary.ChunksAdded)
	assert.Equal(t, 2, summary.ChunksDeleted)
	assert.Equal(t, 1, summary.ChunksUnchanged)

	gen := e.generation()
	assert.Equal(t, map[string]int{"a.md": 1, "b.md": 1}, sources(gen))
	assert.Equal(t, 1, e.index().Size())
}

func TestSync_movedParagraphIsStable(t *testing.T) {
	e := newEnv(t)
	para := prose("para", 700)
	e.write("a.md", para)
	e.run()

	e.remove("a.md")
	e.write("notes/c.md", para)
	summary := e.run()
	assert.Equal(t, 0, summary.ChunksAdded)
	assert.Equal(t, 0, summary.ChunksDeleted)
	assert.Equal(t, 1, summary.ChunksUnchanged)
	assert.Equal(t, map[string]int{"notes/c.md": 1}, sources(e.generation()))
}

func TestSync_noOpRunReusesDocuments(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))
	e.write("b.md", prose("b", 300))
	first := e.run()
	assert.Equal(t, 0, first.DocumentsReused)

	second := e.run()
	assert.Equal(t, 0, second.ChunksAdded)
	assert.Equal(t, 0, second.ChunksDeleted)
	assert.Equal(t, 3, second.ChunksUnchanged)
	assert.Equal(t, 2, second.DocumentsReused)
	assert.Len(t, e.generation(), 3)
}

func TestSync_fullRunRechunks(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))
	e.run()

	summary, err := e.syncer().Run(context.Background(), RunOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.DocumentsReused)
	assert.Equal(t, 0, summary.ChunksAdded)
	assert.Equal(t, 2, summary.ChunksUnchanged)
}

func TestSync_reuseDisabledByConfig(t *testing.T) {
	e := newEnv(t)
	off := false
	e.cfg.Sync.ReuseUnchanged = &off
	e.write("a.md", prose("a", 300))
	e.run()
	assert.Equal(t, 0, e.run().DocumentsReused)
}

func TestSync_chunkingChangeDisablesReuse(t *testing.T) {
	e := newEnv(t)
	text := prose("a", 1200)
	e.write("a.md", text)
	e.run()
	require.Len(t, e.generation(), 2)

	e.cfg.Chunking.Size = 500
	e.cfg.Chunking.Overlap = 100
	summary := e.run()
	assert.Equal(t, 0, summary.DocumentsReused)
	assert.Equal(t, 2, summary.ChunksAdded)
	assert.Equal(t, 1, summary.ChunksDeleted)
	assert.Equal(t, 1, summary.ChunksUnchanged)

	chunker, err := NewChunker(500, 100)
	require.NoError(t, err)
	var got []string
	for _, rec := range e.generation() {
		got = append(got, rec.Text)
	}
	assert.ElementsMatch(t, chunker.Split(text), got)
	assert.Equal(t, 3, e.index().Size())

	// Unchanged settings allow reuse again.
	assert.Equal(t, 1, e.run().DocumentsReused)
}

func TestSync_legacyLedgerWithoutChunkingIsRechunkedOnce(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))
	e.run()
	require.NoError(t, os.Remove(e.cfg.Data.LedgerPath()+".chunking"))

	summary := e.run()
	assert.Equal(t, 0, summary.DocumentsReused)
	assert.Equal(t, 0, summary.ChunksAdded)
	assert.Equal(t, 2, summary.ChunksUnchanged)
	assert.Equal(t, 1, e.run().DocumentsReused)
}

func TestSync_editedDocumentIsRechunked(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))
	e.write("b.md", prose("b", 300))
	e.run()

	e.write("a.md", prose("a", 1000)+prose("z", 200))
	summary := e.run()
	assert.Equal(t, 1, summary.DocumentsReused)
	assert.Equal(t, 1, summary.ChunksAdded)
	assert.Equal(t, 1, summary.ChunksDeleted)
	assert.Equal(t, 2, summary.ChunksUnchanged)
}

func TestSync_emptyCorpusBootstrap(t *testing.T) {
	e := newEnv(t)
	summary := e.run()
	assert.Equal(t, 0, summary.ChunksAdded)
	assert.Empty(t, e.generation())
	_, err := os.Stat(e.cfg.Data.IndexPath())
	assert.True(t, os.IsNotExist(err), "index must not be created when nothing changes")
}

// failingEmbedder fails every batch.
type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, f.err }
func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}
func (f failingEmbedder) Dimensions() int { return testDims }
func (f failingEmbedder) Close() error    { return nil }

func TestSync_embedFailureCommitsNothing(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 300))
	e.run()
	before := e.generation()

	e.write("b.md", prose("b", 300))
	boom := errors.New("embedding service down")
	_, err := e.syncer(WithEmbedder(failingEmbedder{err: boom})).Run(context.Background(), RunOptions{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "embed")
	assert.Equal(t, before, e.generation())
	assert.Equal(t, 1, e.index().Size())

	// The next healthy run retries the same addition.
	summary := e.run()
	assert.Equal(t, 1, summary.ChunksAdded)
	assert.Equal(t, 2, e.index().Size())
}

func TestSync_unavailableModelFailsWithoutCommit(t *testing.T) {
	e := newEnv(t)
	e.cfg.Embedding.Provider = config.ProviderONNX
	e.cfg.Embedding.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	e.write("a.md", prose("a", 1200))

	_, err := e.syncer().Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err), "err = %v", err)
	assert.Empty(t, e.generation())
	for _, path := range []string{e.cfg.Data.GenerationPath(), e.cfg.Data.IndexPath(), e.cfg.Data.LedgerPath()} {
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "%s must not be written", path)
	}
}

// flakyIndex wraps a VectorIndex and fails the selected operation.
type flakyIndex struct {
	vector.VectorIndex
	failAdd, failRemove, failSave bool
}

var errIndex = errors.New("index unavailable")

func (f *flakyIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if f.failAdd {
		return errIndex
	}
	return f.VectorIndex.Add(ctx, ids, vectors)
}

func (f *flakyIndex) Remove(ctx context.Context, ids []int64) error {
	if f.failRemove {
		return errIndex
	}
	return f.VectorIndex.Remove(ctx, ids)
}

func (f *flakyIndex) Save(path string) error {
	if f.failSave {
		return errIndex
	}
	return f.VectorIndex.Save(path)
}

func flakyOpener(cfg *config.Config, f flakyIndex) IndexOpener {
	base := ConfiguredIndexOpener(cfg, nil)
	return func(ctx context.Context, path string, dims int) (vector.VectorIndex, error) {
		idx, err := base(ctx, path, dims)
		if err != nil {
			return nil, err
		}
		wrapped := f
		wrapped.VectorIndex = idx
		return &wrapped, nil
	}
}

func TestSync_indexFailureCommitsNothing(t *testing.T) {
	tests := []struct {
		name  string
		fail  flakyIndex
		stage string
	}{
		{"add", flakyIndex{failAdd: true}, "index add"},
		{"remove", flakyIndex{failRemove: true}, "index remove"},
		{"persist", flakyIndex{failSave: true}, "index persist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.write("a.md", prose("a", 300))
			e.write("b.md", prose("b", 300))
			e.run()
			before := e.generation()

			e.remove("a.md")
			e.write("c.md", prose("c", 300))
			_, err := e.syncer(WithIndexOpener(flakyOpener(e.cfg, tt.fail))).Run(context.Background(), RunOptions{})
			require.ErrorIs(t, err, errIndex)
			assert.Contains(t, err.Error(), tt.stage)
			assert.Equal(t, before, e.generation())

			summary := e.run()
			assert.Equal(t, 1, summary.ChunksAdded)
			assert.Equal(t, 1, summary.ChunksDeleted)
			assert.Equal(t, 2, e.index().Size())
		})
	}
}

func TestSync_dimensionMismatchIsConfigError(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 300))
	e.run()
	before := e.generation()

	e.write("b.md", prose("b", 300))
	_, err := e.syncer(WithEmbedder(embedding.NewMockEmbedder(testDims*2))).Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vector.ErrDimensionMismatch))
	assert.True(t, IsConfigError(err))
	assert.Equal(t, before, e.generation())
}

func TestSync_invalidCorpusRootIsConfigError(t *testing.T) {
	e := newEnv(t)
	_, err := e.syncer().Run(context.Background(), RunOptions{CorpusRoot: filepath.Join(e.root, "missing")})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNewSyncer_rejectsInvalidChunking(t *testing.T) {
	e := newEnv(t)
	e.cfg.Chunking.Overlap = e.cfg.Chunking.Size
	_, err := NewSyncer(e.cfg)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestSync_runLockRejectsConcurrentRun(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 300))
	lock, err := AcquireRunLock(e.data)
	require.NoError(t, err)
	defer lock.Release()

	_, err = e.syncer().Run(context.Background(), RunOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, e.generation())
}

func TestSync_dryRunChangesNothing(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))

	summary, err := e.syncer().Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.ChunksAdded)
	_, err = os.Stat(e.data)
	assert.True(t, os.IsNotExist(err), "dry run must not create the data dir")

	e.run()
	e.remove("a.md")
	summary, err = e.syncer().Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ChunksDeleted)
	assert.Len(t, e.generation(), 2)
	assert.Equal(t, 2, e.index().Size())
}

func TestSync_runOptionsOverrideLayout(t *testing.T) {
	e := newEnv(t)
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "x.md"), []byte(prose("x", 100)), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(other, "skip"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(other, "skip", "y.md"), []byte("y"), 0o600))
	dataDir := filepath.Join(t.TempDir(), "state")

	summary, err := e.syncer().Run(context.Background(), RunOptions{
		CorpusRoot: other,
		IgnoreDirs: []string{"skip"},
		DataDir:    dataDir,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ChunksAdded)

	recs, err := storage.NewJSONLStore(filepath.Join(dataDir, e.cfg.Data.GenerationFile)).LoadPrevious(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "x.md", recs[0].Source)
	assert.Empty(t, e.generation())
}

func docx(text string) string {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.String()
}

func TestSync_unreadableDocumentKeepsPreviousChunks(t *testing.T) {
	e := newEnv(t)
	e.cfg.Corpus.Extensions = []string{".md", ".docx"}
	e.write("a.md", prose("a", 300))
	e.write("report.docx", docx(prose("report", 400)))
	e.run()
	require.Equal(t, map[string]int{"a.md": 1, "report.docx": 1}, sources(e.generation()))

	e.write("report.docx", "not a zip any more")
	summary := e.run()
	assert.Equal(t, 1, summary.DocumentsSkipped)
	assert.Equal(t, 0, summary.ChunksDeleted)
	assert.Equal(t, map[string]int{"a.md": 1, "report.docx": 1}, sources(e.generation()))

	// Once readable again the new content replaces the kept chunk.
	e.write("report.docx", docx(prose("fixed", 400)))
	summary = e.run()
	assert.Equal(t, 0, summary.DocumentsSkipped)
	assert.Equal(t, 1, summary.ChunksAdded)
	assert.Equal(t, 1, summary.ChunksDeleted)
}

func TestSync_ledgerTracksCorpus(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 300))
	e.write("b.md", prose("b", 300))
	e.run()
	e.remove("b.md")
	e.run()

	ledger, err := storage.LoadLedger(e.cfg.Data.LedgerPath())
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Len())
	_, ok := ledger.Previous("a.md")
	assert.True(t, ok)
}

func TestSync_keywordMirror(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", "the quick brown fox")
	e.write("b.md", "lazy dogs sleep")
	e.run()

	// Enabling the mirror later rebuilds it from the committed generation.
	e.cfg.Keyword.Enabled = true
	e.write("c.md", "a fox and a hound")
	e.run()

	kw, err := keyword.NewBleveIndex(e.cfg.Data.KeywordIndexPath())
	require.NoError(t, err)
	n, err := kw.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	hits, err := kw.Search(context.Background(), "fox", 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	require.NoError(t, kw.Close())

	e.remove("a.md")
	e.run()
	kw, err = keyword.NewBleveIndex(e.cfg.Data.KeywordIndexPath())
	require.NoError(t, err)
	defer kw.Close()
	hits, err = kw.Search(context.Background(), "fox", 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSync_statusAndLastSummary(t *testing.T) {
	e := newEnv(t)
	s := e.syncer()
	st, err := s.Status(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, st.GenerationRecords)
	assert.Nil(t, st.LastRun)

	e.write("a.md", prose("a", 1200))
	e.write("b.md", prose("a", 1200))
	summary, err := s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	st, err = s.Status(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, st.GenerationRecords)
	assert.Equal(t, 2, st.DistinctChunks)
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, 2, st.LedgerEntries)
	assert.Equal(t, 2, st.IndexSize)
	assert.Equal(t, config.VectorMemory, st.IndexType)
	assert.Positive(t, st.DiskUsageBytes)
	assert.Equal(t, summary, st.LastRun)
}

func TestRunSync(t *testing.T) {
	e := newEnv(t)
	e.write("a.md", prose("a", 1200))
	summary, err := RunSync(context.Background(), e.cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ChunksAdded)
}
