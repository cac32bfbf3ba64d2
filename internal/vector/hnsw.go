package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
	"github.com/hyperjump/ragsync/internal/config"
)

// HNSWIndex is an approximate L2 index backed by a pure Go HNSW graph.
// Removed and replaced vectors are dropped from the id mapping only; their graph
// nodes stay as orphans until the index is rebuilt.
type HNSWIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int
	m          int
	efSearch   int

	idToKey map[int64]uint64
	keyToID map[uint64]int64
	nextKey uint64

	closed bool
}

// hnswMetadata is persisted next to the graph as path + ".meta".
type hnswMetadata struct {
	Dimensions int
	IDToKey    map[int64]uint64
	NextKey    uint64
}

// NewHNSWIndex creates an empty HNSW index with graph degree m and search width efSearch.
func NewHNSWIndex(dimensions, m, efSearch int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", config.ErrInvalid, dimensions)
	}
	if m <= 0 {
		m = 16
	}
	if efSearch <= 0 {
		efSearch = 20
	}
	return &HNSWIndex{
		graph:      newGraph(m, efSearch),
		dimensions: dimensions,
		m:          m,
		efSearch:   efSearch,
		idToKey:    make(map[int64]uint64),
		keyToID:    make(map[uint64]int64),
	}, nil
}

func newGraph(m, efSearch int) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.EuclideanDistance
	g.M = m
	g.EfSearch = efSearch
	g.Ml = 0.25
	return g
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string { return string(IndexTypeHNSW) }

// Dimensions returns the vector width.
func (h *HNSWIndex) Dimensions() int { return h.dimensions }

// Add inserts vectors; an id that already exists is re-pointed at a new node.
func (h *HNSWIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, h.dimensions); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for i, id := range ids {
		if old, ok := h.idToKey[id]; ok {
			delete(h.keyToID, old)
		}
		key := h.nextKey
		h.nextKey++
		vec := make([]float32, h.dimensions)
		copy(vec, vectors[i])
		h.graph.Add(hnsw.MakeNode(key, vec))
		h.idToKey[id] = key
		h.keyToID[key] = id
	}
	return nil
}

// Search returns up to k nearest live vectors.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := checkQuery(query, h.dimensions); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	if k <= 0 || len(h.idToKey) == 0 || h.graph.Len() == 0 {
		return nil, nil
	}
	// Ask for enough candidates to cover orphaned nodes.
	want := k + (h.graph.Len() - len(h.idToKey))
	if want > h.graph.Len() {
		want = h.graph.Len()
	}
	nodes := h.graph.Search(query, want)
	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyToID[node.Key]
		if !ok {
			continue
		}
		d := SquaredL2(query, node.Value)
		results = append(results, Result{ID: id, Distance: d, Score: distanceToScore(d)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove unmaps ids. Unknown ids are ignored.
func (h *HNSWIndex) Remove(ctx context.Context, ids []int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for _, id := range ids {
		if key, ok := h.idToKey[id]; ok {
			delete(h.keyToID, key)
			delete(h.idToKey, id)
		}
	}
	return nil
}

// Orphans returns the number of graph nodes no id points to.
func (h *HNSWIndex) Orphans() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	return h.graph.Len() - len(h.idToKey)
}

// Save writes the graph to path and the id mapping to path + ".meta", each atomically.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	graphFile, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer graphFile.Cleanup()
	w := bufio.NewWriter(graphFile)
	if err := h.graph.Export(w); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush graph: %w", err)
	}
	if err := graphFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}

	metaFile, err := renameio.TempFile(dir, path+".meta")
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	defer metaFile.Cleanup()
	meta := hnswMetadata{Dimensions: h.dimensions, IDToKey: h.idToKey, NextKey: h.nextKey}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := metaFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace metadata file: %w", err)
	}
	return nil
}

// Load replaces the index with the graph at path. A missing file leaves the index unchanged.
func (h *HNSWIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	metaFile, err := os.Open(path + ".meta")
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()
	var meta hnswMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dimensions != h.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, meta.Dimensions, h.dimensions)
	}

	graphFile, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer graphFile.Close()
	graph := newGraph(h.m, h.efSearch)
	if err := graph.Import(bufio.NewReader(graphFile)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	keyToID := make(map[uint64]int64, len(meta.IDToKey))
	for id, key := range meta.IDToKey {
		keyToID[key] = id
	}
	if meta.IDToKey == nil {
		meta.IDToKey = make(map[int64]uint64)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = graph
	h.idToKey = meta.IDToKey
	h.keyToID = keyToID
	h.nextKey = meta.NextKey
	return nil
}

// Size returns the number of live vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToKey)
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	return nil
}
