package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/ragsync/internal/config"
)

// ErrNoAPIKey is returned when the openai provider is selected without a key.
var ErrNoAPIKey = fmt.Errorf("%w: openai api key not set (RAGSYNC_OPENAI_API_KEY)", config.ErrInvalid)

// ErrWrongDimensions is returned when the provider's vectors do not have the configured width.
var ErrWrongDimensions = errors.New("embedding has wrong dimensions")

const defaultOpenAIBatch = 64

// embeddingAPI is the subset of *openai.Client used here.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	api        embeddingAPI
	model      openai.EmbeddingModel
	dimensions int
	batchSize  int
}

// NewOpenAIEmbedder builds a client for cfg. BaseURL overrides the public endpoint.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newOpenAIEmbedder(openai.NewClientWithConfig(clientCfg), cfg), nil
}

func newOpenAIEmbedder(api embeddingAPI, cfg OpenAIConfig) *OpenAIEmbedder {
	model := openai.EmbeddingModel(cfg.Model)
	if model == "" {
		model = openai.SmallEmbedding3
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultOpenAIBatch
	}
	return &OpenAIEmbedder{api: api, model: model, dimensions: cfg.Dimensions, batchSize: batch}
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in requests of at most BatchSize inputs. Vectors are
// placed by the index the provider reports, so response order does not matter.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: batch,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyResponse, len(resp.Data), len(batch))
	}

	data := append([]openai.Embedding(nil), resp.Data...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, e.dimensions, len(d.Embedding))
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// Dimensions returns the configured width.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
