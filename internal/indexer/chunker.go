// Package indexer splits documents into content-addressed chunks and keeps the
// vector index and the generation store in sync with them.
package indexer

import (
	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/contentid"
	"github.com/hyperjump/ragsync/internal/models"
)

// Chunker splits text into overlapping windows measured in characters (runes).
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given window size and overlap.
// It fails with config.ErrInvalid unless 0 <= overlap < size.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if err := config.ValidateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// Size returns the window size.
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap returns the window overlap.
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Split cuts text into windows of chunkSize starting every chunkSize-overlap characters.
// The first window that reaches the end of the text is the last one. If that window
// contributes fewer than overlap characters past the end of the previous window, it is
// dropped and the previous window is extended to the end of the text instead.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap

	type window struct{ start, end int }
	windows := make([]window, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		windows = append(windows, window{start, end})
		if end == n {
			break
		}
	}

	if k := len(windows); k > 1 && windows[k-1].end-windows[k-2].end < c.chunkOverlap {
		windows[k-2].end = n
		windows = windows[:k-1]
	}

	chunks := make([]string, len(windows))
	for i, w := range windows {
		chunks[i] = string(runes[w.start:w.end])
	}
	return chunks
}

// Chunk splits text and builds one record per window, attributed to source.
func (c *Chunker) Chunk(source, text string) []models.ChunkRecord {
	parts := c.Split(text)
	if len(parts) == 0 {
		return nil
	}
	records := make([]models.ChunkRecord, len(parts))
	for i, part := range parts {
		records[i] = BuildRecord(part, source)
	}
	return records
}

// BuildRecord derives the content hash and id of chunkText and attributes it to source.
func BuildRecord(chunkText, source string) models.ChunkRecord {
	hash, id := contentid.ChunkID(chunkText)
	return models.ChunkRecord{
		ID:     id,
		Hash:   hash,
		Text:   chunkText,
		Source: source,
	}
}
