package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio"
	"go.uber.org/zap"
)

// paramsSuffix names the sidecar next to the ledger that records the chunker settings.
const paramsSuffix = ".chunking"

// ChunkParams are the chunker settings the committed generation was built with.
type ChunkParams struct {
	Size    int `json:"size"`
	Overlap int `json:"overlap"`
}

// Ledger maps document relative paths to whole-file content hashes.
type Ledger struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	hashes map[string]string
	prev   map[string]string
	seen   map[string]struct{}
	params *ChunkParams
}

// LoadLedger reads the ledger at path. A missing file yields an empty ledger.
// A file that is not a JSON object is logged and treated as empty, which makes
// every document look new for one run.
func LoadLedger(path string, opts ...Option) (*Ledger, error) {
	o := buildOptions(opts)
	l := &Ledger{
		path:   path,
		logger: o.logger,
		hashes: map[string]string{},
		seen:   map[string]struct{}{},
	}
	if err := l.loadParams(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		l.prev = map[string]string{}
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.hashes); err != nil {
		l.logger.Warn("ignoring unreadable ledger", zap.String("path", path), zap.Error(err))
		l.hashes = map[string]string{}
	}
	l.prev = make(map[string]string, len(l.hashes))
	for k, v := range l.hashes {
		l.prev[k] = v
	}
	return l, nil
}

func (l *Ledger) loadParams() error {
	data, err := os.ReadFile(l.path + paramsSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read chunking params: %w", err)
	}
	var p ChunkParams
	if err := json.Unmarshal(data, &p); err != nil {
		l.logger.Warn("ignoring unreadable chunking params", zap.String("path", l.path+paramsSuffix), zap.Error(err))
		return nil
	}
	l.params = &p
	return nil
}

// ChunkParams returns the chunker settings recorded with the ledger. ok is false when
// none were recorded, as for a ledger written before settings were tracked.
func (l *Ledger) ChunkParams() (p ChunkParams, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.params == nil {
		return ChunkParams{}, false
	}
	return *l.params, true
}

// SetChunkParams records the settings written by the next Save.
func (l *Ledger) SetChunkParams(p ChunkParams) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = &p
}

// NeedsProcessing reports whether path is unseen or its hash differs from the recorded
// one, and records hash for path either way.
func (l *Ledger) NeedsProcessing(path, hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[path] = struct{}{}
	old, ok := l.hashes[path]
	l.hashes[path] = hash
	return !ok || old != hash
}

// Previous returns the hash recorded for path when the ledger was loaded.
func (l *Ledger) Previous(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.prev[path]
	return h, ok
}

// Revert restores the entry for path to its value at load time, keeping the path
// marked as seen. Used when a document was hashed but could not be processed.
func (l *Ledger) Revert(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[path] = struct{}{}
	if h, ok := l.prev[path]; ok {
		l.hashes[path] = h
		return
	}
	delete(l.hashes, path)
}

// Prune drops entries for paths not passed to NeedsProcessing since load and
// returns the dropped paths in sorted order.
func (l *Ledger) Prune() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var dropped []string
	for path := range l.hashes {
		if _, ok := l.seen[path]; !ok {
			dropped = append(dropped, path)
			delete(l.hashes, path)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hashes)
}

// Save writes the chunking params, then the ledger, each atomically.
func (l *Ledger) Save() error {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.hashes, "", "  ")
	var params []byte
	if err == nil && l.params != nil {
		params, err = json.Marshal(l.params)
	}
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if params != nil {
		if err := renameio.WriteFile(l.path+paramsSuffix, params, 0644); err != nil {
			return fmt.Errorf("failed to write chunking params: %w", err)
		}
	}
	if err := renameio.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
