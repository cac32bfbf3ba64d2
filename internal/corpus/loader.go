package corpus

import (
	"context"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/ragsync/internal/contentid"
	"github.com/hyperjump/ragsync/internal/extract"
	"github.com/hyperjump/ragsync/internal/models"
)

// NeedsTextFunc decides, from a document's whole-file hash, whether its text must be read.
// It may be called concurrently.
type NeedsTextFunc func(name, hash string) bool

// Loader reads documents in parallel.
type Loader struct {
	extractor *extract.Extractor
	workers   int
	logger    *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger used for skipped documents.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithWorkers bounds the number of documents read at once.
func WithWorkers(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.workers = n
		}
	}
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(ld *Loader) {
		if e != nil {
			ld.extractor = e
		}
	}
}

// NewLoader returns a Loader with one worker per CPU.
func NewLoader(opts ...Option) *Loader {
	ld := &Loader{
		extractor: extract.NewExtractor(),
		workers:   runtime.NumCPU(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Result is the outcome of loading a set of documents.
type Result struct {
	// Documents are in the order of the requested names, minus skipped ones.
	Documents []models.Document
	// Skipped are the names that could not be read.
	Skipped []string
}

// Load reads names relative to root. A document that cannot be read or extracted is
// logged and skipped. When needsText is non-nil and returns false, the document is
// hashed only and returned with Reuse set. Load fails only when ctx is done.
func (ld *Loader) Load(ctx context.Context, root string, names []string, needsText NeedsTextFunc) (Result, error) {
	docs := make([]models.Document, len(names))
	ok := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ld.workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := ld.loadOne(root, name, needsText)
			if err != nil {
				ld.logger.Warn("skipping unreadable document", zap.String("path", name), zap.Error(err))
				return nil
			}
			docs[i] = doc
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Documents: make([]models.Document, 0, len(names))}
	for i, name := range names {
		if ok[i] {
			res.Documents = append(res.Documents, docs[i])
		} else {
			res.Skipped = append(res.Skipped, name)
		}
	}
	return res, nil
}

func (ld *Loader) loadOne(root, name string, needsText NeedsTextFunc) (models.Document, error) {
	path := filepath.Join(root, filepath.FromSlash(name))
	if needsText == nil {
		c, err := ld.extractor.ExtractFile(path)
		if err != nil {
			return models.Document{}, err
		}
		return models.Document{Name: name, Text: c.Text, Hash: c.Hash}, nil
	}

	hash, err := contentid.HashFile(path)
	if err != nil {
		return models.Document{}, err
	}
	if !needsText(name, hash) {
		return models.Document{Name: name, Hash: hash, Reuse: true}, nil
	}
	text, err := ld.extractor.Extract(path)
	if err != nil {
		return models.Document{}, err
	}
	return models.Document{Name: name, Text: text, Hash: hash}, nil
}
