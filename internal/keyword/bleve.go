package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/models"
)

const (
	fieldText   = "text"
	fieldSource = "source"
	fieldHash   = "hash"
)

// batchSize bounds the number of operations per bleve batch.
const batchSize = 500

// bleveDoc is the stored shape of one chunk.
type bleveDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Hash   string `json:"hash"`
}

// BleveIndex implements Index on a bleve index directory.
type BleveIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// Option configures a BleveIndex.
type Option func(*BleveIndex)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *BleveIndex) {
		if l != nil {
			b.logger = l
		}
	}
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so exact words match.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldText, textFieldMapping)
	sourceFieldMapping := bleve.NewTextFieldMapping()
	sourceFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldSource, sourceFieldMapping)
	hashFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt(fieldHash, hashFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex opens the bleve index at path, creating it when absent.
// An empty path creates an in-memory index.
func NewBleveIndex(path string, opts ...Option) (*BleveIndex, error) {
	b := &BleveIndex{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		b.index = index
		return b, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		b.index = index
		return b, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	return b, nil
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }

// normalizeSource turns path separators, underscores and dots into spaces so that
// "notes/release_plan.md" matches "release plan".
func normalizeSource(source string) string {
	return strings.NewReplacer("/", " ", "_", " ", ".", " ", "-", " ").Replace(source)
}

// Upsert indexes records in batches.
func (b *BleveIndex) Upsert(ctx context.Context, records []models.ChunkRecord) error {
	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(records))
		batch := b.index.NewBatch()
		for _, rec := range records[start:end] {
			doc := bleveDoc{Text: rec.Text, Source: normalizeSource(rec.Source), Hash: rec.Hash}
			if err := batch.Index(docID(rec.ID), doc); err != nil {
				return fmt.Errorf("keyword index %d: %w", rec.ID, err)
			}
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("keyword batch: %w", err)
		}
	}
	return nil
}

// Delete removes ids in batches.
func (b *BleveIndex) Delete(ctx context.Context, ids []int64) error {
	for start := 0; start < len(ids); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(ids))
		batch := b.index.NewBatch()
		for _, id := range ids[start:end] {
			batch.Delete(docID(id))
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("keyword delete batch: %w", err)
		}
	}
	return nil
}

// Search runs a match query over chunk text and returns up to limit results.
// With opts.SourceBoost > 1, text and source queries run separately and their
// scores are added, source scores multiplied by the boost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	sourceBoost := 1.0
	fuzzy := false
	fuzziness := 2
	if opts != nil {
		if opts.SourceBoost > 0 {
			sourceBoost = opts.SourceBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	textHits, err := b.run(ctx, buildQuery(query, fieldText, fuzzy, fuzziness), limit*2)
	if err != nil {
		return nil, err
	}
	if sourceBoost <= 1.0 {
		return topN(textHits, limit), nil
	}
	sourceHits, err := b.run(ctx, buildQuery(query, fieldSource, fuzzy, fuzziness), limit*2)
	if err != nil {
		return nil, err
	}
	for id, score := range sourceHits {
		textHits[id] += score * sourceBoost
	}
	return topN(textHits, limit), nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (map[int64]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make(map[int64]float64, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			b.logger.Warn("ignoring keyword hit with foreign id", zap.String("id", hit.ID))
			continue
		}
		out[id] = hit.Score
	}
	return out, nil
}

func topN(scores map[int64]float64, limit int) []Result {
	out := make([]Result, 0, len(scores))
	for id, score := range scores {
		out = append(out, Result{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildQuery returns a match query on field, or a disjunction of fuzzy term queries.
func buildQuery(query, field string, fuzzy bool, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the total number of chunks in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
