package config

import "runtime"

// Embedding providers.
const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
)

// Vector index backends.
const (
	VectorMemory   = "memory"
	VectorHNSW     = "hnsw"
	VectorFAISS    = "faiss"
	VectorPGVector = "pgvector"
)

// Generation store backends.
const (
	GenerationJSONL  = "jsonl"
	GenerationSQLite = "sqlite"
)

// Chunking defaults, measured in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = GenerationJSONL
	}
	if cfg.Corpus.Root == "" {
		cfg.Corpus.Root = "./knowledge"
	}
	if cfg.Corpus.IgnoreDirs == nil {
		cfg.Corpus.IgnoreDirs = []string{".git", ".github", "__pycache__", "node_modules"}
	}
	if len(cfg.Corpus.Extensions) == 0 {
		cfg.Corpus.Extensions = []string{".md"}
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "./data"
	}
	if cfg.Data.LedgerFile == "" {
		cfg.Data.LedgerFile = "metadata.json"
	}
	if cfg.Data.GenerationFile == "" {
		if cfg.Generation.Backend == GenerationSQLite {
			cfg.Data.GenerationFile = "metadata.db"
		} else {
			cfg.Data.GenerationFile = "metadata_store.jsonl"
		}
	}
	if cfg.Data.KeywordIndexDir == "" {
		cfg.Data.KeywordIndexDir = "keyword.bleve"
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = DefaultChunkSize
	}
	if cfg.Chunking.Overlap == 0 && cfg.Chunking.Size == DefaultChunkSize {
		cfg.Chunking.Overlap = DefaultChunkOverlap
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == ProviderOpenAI {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		if cfg.Embedding.Provider == ProviderOpenAI {
			cfg.Embedding.Dimensions = 1536
		} else {
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Vector.Type == "" {
		cfg.Vector.Type = VectorMemory
	}
	if cfg.Data.IndexFile == "" {
		switch cfg.Vector.Type {
		case VectorHNSW:
			cfg.Data.IndexFile = "index.hnsw"
		case VectorMemory:
			cfg.Data.IndexFile = "index.mem"
		default:
			cfg.Data.IndexFile = "index.faiss"
		}
	}
	if cfg.Vector.HNSWM == 0 {
		cfg.Vector.HNSWM = 16
	}
	if cfg.Vector.HNSWEfSearch == 0 {
		cfg.Vector.HNSWEfSearch = 20
	}
	if cfg.Vector.PGTable == "" {
		cfg.Vector.PGTable = "ragsync_vectors"
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = runtime.NumCPU()
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "1s"
	}
}
