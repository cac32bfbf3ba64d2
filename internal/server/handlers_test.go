package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/embedding"
	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/search"
)

type fakeSyncer struct {
	err     error
	opts    indexer.RunOptions
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSyncer) Run(ctx context.Context, opts indexer.RunOptions) (*models.SyncSummary, error) {
	f.opts = opts
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.SyncSummary{RunID: "run-1", ChunksAdded: 3, DryRun: opts.DryRun}, nil
}

func (f *fakeSyncer) Status(ctx context.Context, opts indexer.RunOptions) (*indexer.Status, error) {
	return &indexer.Status{DataDir: "/data", GenerationRecords: 7, IndexType: "memory"}, nil
}

type fakeSearcher struct {
	err error
	k   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]search.Hit, error) {
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	return []search.Hit{{Record: models.ChunkRecord{ID: 1, Text: query, Source: "a.md"}, Score: 1}}, nil
}

func (f *fakeSearcher) KeywordSearch(ctx context.Context, query string, k int, _ *keyword.SearchOptions) ([]search.Hit, error) {
	return nil, search.ErrKeywordDisabled
}

func newTestServer(sy Syncer, se Searcher) *httptest.Server {
	return httptest.NewServer(NewServer(sy, se, &config.ServerConfig{}, nil).Handler())
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(&fakeSyncer{}, &fakeSearcher{})
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	decode(t, resp, &out)
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health: %d %v", resp.StatusCode, out)
	}
}

func TestHandleSync(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"empty body", "", nil, http.StatusOK},
		{"dry run", `{"dry_run":true}`, nil, http.StatusOK},
		{"bad body", `{`, nil, http.StatusBadRequest},
		{"config error", "", fmt.Errorf("%w: chunk overlap", config.ErrInvalid), http.StatusBadRequest},
		{"locked", "", indexer.ErrRunInProgress, http.StatusConflict},
		{"failure", "", errors.New("embed: down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sy := &fakeSyncer{err: tt.err}
			ts := newTestServer(sy, &fakeSearcher{})
			defer ts.Close()
			resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.name == "dry run" && !sy.opts.DryRun {
				t.Error("dry_run was not passed to the syncer")
			}
		})
	}
}

func TestHandleSync_concurrentRequestConflicts(t *testing.T) {
	sy := &fakeSyncer{block: make(chan struct{}), entered: make(chan struct{})}
	ts := newTestServer(sy, &fakeSearcher{})
	defer ts.Close()

	done := make(chan int)
	go func() {
		resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-sy.entered

	resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second sync status = %d, want 409", resp.StatusCode)
	}
	close(sy.block)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first sync status = %d, want 200", code)
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(&fakeSyncer{}, &fakeSearcher{})
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	var st indexer.Status
	decode(t, resp, &st)
	if st.GenerationRecords != 7 || st.IndexType != "memory" {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleSearch(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantK      int
	}{
		{"default k", "?q=hello", nil, http.StatusOK, search.DefaultK},
		{"explicit k", "?q=hello&k=3", nil, http.StatusOK, 3},
		{"missing q", "", nil, http.StatusBadRequest, 0},
		{"bad k", "?q=hello&k=zero", nil, http.StatusBadRequest, 0},
		{"negative k", "?q=hello&k=-1", nil, http.StatusBadRequest, 0},
		{"bad mode", "?q=hello&mode=fuzzy", nil, http.StatusBadRequest, 0},
		{"keyword disabled", "?q=hello&mode=keyword", nil, http.StatusNotImplemented, 0},
		{"failure", "?q=hello", errors.New("index broken"), http.StatusInternalServerError, search.DefaultK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := &fakeSearcher{err: tt.err}
			ts := newTestServer(&fakeSyncer{}, se)
			defer ts.Close()
			resp, err := http.Get(ts.URL + "/api/v1/search" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if se.k != tt.wantK {
				t.Errorf("k = %d, want %d", se.k, tt.wantK)
			}
		})
	}
}

func TestServer_endToEnd(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Corpus.Root = filepath.Join(base, "knowledge")
	cfg.Data.Dir = filepath.Join(base, "data")
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimensions = 8
	if err := os.MkdirAll(cfg.Corpus.Root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Corpus.Root, "a.md"), []byte("hello world"), 0o600); err != nil {
		t.Fatal(err)
	}

	emb := embedding.NewMockEmbedder(8)
	syncer, err := indexer.NewSyncer(cfg, indexer.WithEmbedder(emb))
	if err != nil {
		t.Fatal(err)
	}
	searcher := search.FromConfig(cfg, emb, nil)
	defer searcher.Close()
	ts := newTestServer(syncer, searcher)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	var summary models.SyncSummary
	decode(t, resp, &summary)
	if resp.StatusCode != http.StatusOK || summary.ChunksAdded != 1 {
		t.Fatalf("sync: %d %+v", resp.StatusCode, summary)
	}

	resp, err = http.Get(ts.URL + "/api/v1/search?q=hello+world&k=1")
	if err != nil {
		t.Fatal(err)
	}
	var out searchResponse
	decode(t, resp, &out)
	if len(out.Hits) != 1 || out.Hits[0].Record.Source != "a.md" {
		t.Errorf("search hits = %+v", out.Hits)
	}

	resp, err = http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	var st indexer.Status
	decode(t, resp, &st)
	if st.GenerationRecords != 1 || st.LastRun == nil || st.LastRun.RunID != summary.RunID {
		t.Errorf("status = %+v", st)
	}
}
