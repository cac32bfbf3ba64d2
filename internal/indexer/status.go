package indexer

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/reconcile"
	"github.com/hyperjump/ragsync/internal/storage"
)

// Status describes the committed state of a data dir.
type Status struct {
	DataDir           string              `json:"data_dir"`
	GenerationRecords int                 `json:"generation_records"`
	DistinctChunks    int                 `json:"distinct_chunks"`
	Documents         int                 `json:"documents"`
	LedgerEntries     int                 `json:"ledger_entries"`
	IndexType         string              `json:"index_type"`
	IndexSize         int                 `json:"index_size"`
	DiskUsageBytes    int64               `json:"disk_usage_bytes"`
	LastRun           *models.SyncSummary `json:"last_run,omitempty"`
}

// LastSummary returns the summary of the last successful non-dry run of s, if any.
func (s *Syncer) LastSummary() *models.SyncSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Status reads the committed generation, the ledger and the vector index of the
// layout opts selects. Nothing is created or modified.
func (s *Syncer) Status(ctx context.Context, opts RunOptions) (*Status, error) {
	layout := s.Layout(opts)
	st := &Status{
		DataDir:   layout.Dir,
		IndexType: s.cfg.Vector.Type,
		LastRun:   s.LastSummary(),
	}

	if fileExists(layout.GenerationPath()) {
		store, err := s.openStore(layout.GenerationPath())
		if err != nil {
			return nil, fmt.Errorf("open generation store: %w", err)
		}
		records, err := store.LoadPrevious(ctx)
		_ = store.Close()
		if err != nil {
			return nil, fmt.Errorf("load generation: %w", err)
		}
		st.GenerationRecords = len(records)
		st.DistinctChunks = len(reconcile.Distinct(records))
		sources := make(map[string]struct{})
		for _, rec := range records {
			sources[rec.Source] = struct{}{}
		}
		st.Documents = len(sources)
	}

	ledger, err := storage.LoadLedger(layout.LedgerPath())
	if err != nil {
		return nil, err
	}
	st.LedgerEntries = ledger.Len()

	if s.cfg.Vector.Type == config.VectorPGVector || fileExistsAny(layout.IndexPath(), layout.IndexPath()+".meta") {
		idx, err := s.openIndex(ctx, layout.IndexPath(), s.embedder.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		st.IndexSize = idx.Size()
		st.IndexType = idx.Type()
		_ = idx.Close()
	}

	usage, err := storage.DiskUsageBytes(
		layout.GenerationPath(),
		layout.LedgerPath(),
		layout.IndexPath(),
		layout.IndexPath()+".meta",
		layout.KeywordIndexPath(),
	)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	st.DiskUsageBytes = usage
	return st, nil
}

func fileExistsAny(paths ...string) bool {
	for _, p := range paths {
		if fileExists(p) {
			return true
		}
	}
	return false
}
