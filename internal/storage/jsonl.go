package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/hyperjump/ragsync/internal/models"
	"go.uber.org/zap"
)

// JSONLStore keeps the generation as one JSON chunk record per line.
type JSONLStore struct {
	path   string
	logger *zap.Logger
}

// NewJSONLStore returns a store backed by the file at path. The file need not exist.
func NewJSONLStore(path string, opts ...Option) *JSONLStore {
	o := buildOptions(opts)
	return &JSONLStore{path: path, logger: o.logger}
}

// Path returns the backing file path.
func (s *JSONLStore) Path() string { return s.path }

// LoadPrevious reads the committed generation. Lines that do not decode, or decode
// without a hash, are skipped with a warning.
func (s *JSONLStore) LoadPrevious(ctx context.Context) ([]models.ChunkRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.ChunkRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open generation: %w", err)
	}
	defer f.Close()

	records := make([]models.ChunkRecord, 0)
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, readErr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec models.ChunkRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				s.logger.Warn("skipping malformed generation line",
					zap.String("path", s.path), zap.Int("line", lineNo), zap.Error(err))
			} else if rec.Hash == "" {
				s.logger.Warn("skipping generation line without hash",
					zap.String("path", s.path), zap.Int("line", lineNo))
			} else {
				records = append(records, rec)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read generation: %w", readErr)
		}
	}
	return records, nil
}

// Commit writes records to a temporary file next to the generation and renames it
// into place, so readers see either the old or the new generation in full.
func (s *JSONLStore) Commit(ctx context.Context, records []models.ChunkRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create generation directory: %w", err)
	}
	pending, err := renameio.TempFile(dir, s.path)
	if err != nil {
		return fmt.Errorf("failed to create temp generation: %w", err)
	}
	defer pending.Cleanup()

	w := bufio.NewWriter(pending)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", rec.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write generation: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace generation: %w", err)
	}
	return nil
}

// Lookup scans the committed generation for ids.
func (s *JSONLStore) Lookup(ctx context.Context, ids []int64) (map[int64]models.ChunkRecord, error) {
	records, err := s.LoadPrevious(ctx)
	if err != nil {
		return nil, err
	}
	return lookupIn(records, ids), nil
}

// Close is a no-op; the file is opened per call.
func (s *JSONLStore) Close() error { return nil }
