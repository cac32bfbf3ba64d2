// Package models defines core data structures for documents, chunk records, and sync results.
package models

import (
	"encoding/json"
	"time"
)

// Document is a named unit of source text discovered under the corpus root.
// Name is the slash-separated path relative to the root and is the document identity.
type Document struct {
	Name string `json:"name"`
	Text string `json:"-"`
	// Hash is the whole-file content hash used by the file ledger.
	Hash string `json:"hash"`
	// Reuse marks a document whose text was not read because its records from the
	// previous generation are taken as-is.
	Reuse bool `json:"-"`
}

// ChunkRecord is the unit of identity: a chunk's text, its content hash, and the
// vector-index id derived from that hash.
type ChunkRecord struct {
	ID     int64  `json:"id"`
	Hash   string `json:"hash"`
	Text   string `json:"chunk"`
	Source string `json:"source"`
}

// UnmarshalJSON accepts both "chunk" and "text" for the chunk content.
func (r *ChunkRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID     int64   `json:"id"`
		Hash   string  `json:"hash"`
		Chunk  *string `json:"chunk"`
		Text   *string `json:"text"`
		Source string  `json:"source"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.ID = wire.ID
	r.Hash = wire.Hash
	r.Source = wire.Source
	r.Text = ""
	switch {
	case wire.Chunk != nil:
		r.Text = *wire.Chunk
	case wire.Text != nil:
		r.Text = *wire.Text
	}
	return nil
}

// ReconciliationResult is the add/delete set between two generations.
// Records whose hash is present in both generations are counted in Unchanged and
// appear in neither list.
type ReconciliationResult struct {
	ToAdd     []ChunkRecord `json:"to_add"`
	ToDelete  []ChunkRecord `json:"to_delete"`
	Unchanged int           `json:"unchanged"`
}

// Empty reports whether the result requires no index mutation.
func (r *ReconciliationResult) Empty() bool {
	return len(r.ToAdd) == 0 && len(r.ToDelete) == 0
}

// SyncSummary is the externally observable result of one sync run.
type SyncSummary struct {
	RunID            string        `json:"run_id"`
	ChunksAdded      int           `json:"chunks_added"`
	ChunksDeleted    int           `json:"chunks_deleted"`
	ChunksUnchanged  int           `json:"chunks_unchanged"`
	Documents        int           `json:"documents"`
	DocumentsSkipped int           `json:"documents_skipped"`
	DocumentsReused  int           `json:"documents_reused"`
	DryRun           bool          `json:"dry_run,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
}
