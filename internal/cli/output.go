// Package cli renders command output for ragsync.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/search"
	"github.com/hyperjump/ragsync/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetLen is the number of characters of chunk text shown per hit.
const snippetLen = 200

// ParseOutputFormat validates s. An empty string means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (text, json)", config.ErrInvalid, s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSummary writes the result of a sync run.
func WriteSummary(w io.Writer, s *models.SyncSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	verb := "Synced"
	if s.DryRun {
		verb = "Dry run:"
	}
	fmt.Fprintf(w, "%s %d documents in %s (run %s)\n", verb, s.Documents, s.Duration.Round(time.Millisecond), s.RunID)
	fmt.Fprintf(w, "  added:     %d\n", s.ChunksAdded)
	fmt.Fprintf(w, "  deleted:   %d\n", s.ChunksDeleted)
	fmt.Fprintf(w, "  unchanged: %d\n", s.ChunksUnchanged)
	if s.DocumentsReused > 0 {
		fmt.Fprintf(w, "  reused documents:  %d\n", s.DocumentsReused)
	}
	if s.DocumentsSkipped > 0 {
		fmt.Fprintf(w, "  skipped documents: %d\n", s.DocumentsSkipped)
	}
	return nil
}

// WriteStatus writes the committed state of a data dir.
func WriteStatus(w io.Writer, st *indexer.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Data dir:        %s\n", st.DataDir)
	fmt.Fprintf(w, "Documents:       %d\n", st.Documents)
	fmt.Fprintf(w, "Chunk records:   %d (%d distinct)\n", st.GenerationRecords, st.DistinctChunks)
	fmt.Fprintf(w, "Ledger entries:  %d\n", st.LedgerEntries)
	fmt.Fprintf(w, "Vector index:    %s, %d vectors\n", st.IndexType, st.IndexSize)
	fmt.Fprintf(w, "Disk usage:      %s\n", humanBytes(st.DiskUsageBytes))
	if st.LastRun != nil {
		fmt.Fprintf(w, "Last run:        %s at %s\n", st.LastRun.RunID, st.LastRun.StartedAt.Format(time.RFC3339))
	}
	return nil
}

// WriteHits writes retrieval results, best first.
func WriteHits(w io.Writer, query string, hits []search.Hit, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			Query string       `json:"query"`
			Hits  []search.Hit `json:"hits"`
		}{query, hits})
	}
	fmt.Fprintf(w, "\n=== Top %d matches for %q ===\n", len(hits), query)
	for i, h := range hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  %s  score: %.4f  id: %d\n", i+1, h.Record.Source, h.Score, h.Record.ID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(h.Record.Text, snippetLen))
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
