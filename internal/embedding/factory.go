package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/config"
)

// New returns the embedder selected by cfg, wrapped in a cache and built lazily.
// An onnx provider whose runtime or model is unavailable fails on first use with an
// error wrapping config.ErrInvalid; the mock embedder is only used when selected.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive, got %d", config.ErrInvalid, cfg.Dimensions)
	}

	var build BuildFunc
	switch cfg.Provider {
	case config.ProviderMock:
		build = func() (Embedder, error) { return NewMockEmbedder(cfg.Dimensions), nil }
	case config.ProviderONNX, "":
		build = func() (Embedder, error) {
			e, err := NewONNXEmbedder(ONNXConfig{
				ModelPath:  cfg.ModelPath,
				Dimensions: cfg.Dimensions,
				MaxTokens:  cfg.MaxTokens,
			})
			if err != nil {
				logger.Error("onnx embedder unavailable",
					zap.String("model_path", cfg.ModelPath), zap.Error(err))
				return nil, fmt.Errorf("%w: onnx embedder unavailable (model %s, or set embedding.provider): %w",
					config.ErrInvalid, cfg.ModelPath, err)
			}
			logger.Debug("onnx embedder loaded", zap.String("model_path", cfg.ModelPath))
			return e, nil
		}
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		build = func() (Embedder, error) {
			return NewOpenAIEmbedder(OpenAIConfig{
				APIKey:     cfg.APIKey,
				BaseURL:    cfg.BaseURL,
				Model:      cfg.Model,
				Dimensions: cfg.Dimensions,
				BatchSize:  cfg.BatchSize,
			})
		}
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalid, cfg.Provider)
	}

	return NewCachedEmbedder(NewLazyEmbedder(cfg.Dimensions, build), cfg.CacheSize), nil
}
