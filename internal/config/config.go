// Package config provides configuration loading and structs for ragsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors. They are fatal and detected before any mutation.
var ErrInvalid = errors.New("invalid configuration")

// envPrefix is the prefix for environment overrides (RAGSYNC_DATA_DIR, ...).
const envPrefix = "RAGSYNC"

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Data       DataConfig       `yaml:"data"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Vector     VectorConfig     `yaml:"vector"`
	Generation GenerationConfig `yaml:"generation"`
	Keyword    KeywordConfig    `yaml:"keyword"`
	Sync       SyncConfig       `yaml:"sync"`
	Server     ServerConfig     `yaml:"server"`
	Watch      WatchConfig      `yaml:"watch"`
}

// CorpusConfig describes where documents come from.
type CorpusConfig struct {
	Root       string   `yaml:"root"`
	IgnoreDirs []string `yaml:"ignore_dirs"`
	Extensions []string `yaml:"extensions"`
}

// DataConfig holds the persisted state layout. File names are relative to Dir unless absolute.
type DataConfig struct {
	Dir             string `yaml:"dir"`
	LedgerFile      string `yaml:"ledger_file"`
	GenerationFile  string `yaml:"generation_file"`
	IndexFile       string `yaml:"index_file"`
	KeywordIndexDir string `yaml:"keyword_index_dir"`
}

// LedgerPath returns the path of the whole-file hash ledger.
func (d DataConfig) LedgerPath() string { return d.resolve(d.LedgerFile) }

// GenerationPath returns the path of the generation store.
func (d DataConfig) GenerationPath() string { return d.resolve(d.GenerationFile) }

// IndexPath returns the path of the persisted vector index.
func (d DataConfig) IndexPath() string { return d.resolve(d.IndexFile) }

// KeywordIndexPath returns the directory of the keyword mirror.
func (d DataConfig) KeywordIndexPath() string { return d.resolve(d.KeywordIndexDir) }

func (d DataConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// ChunkingConfig holds the character-window chunking parameters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig selects and configures the embedding collaborator.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BatchSize  int    `yaml:"batch_size"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Type         string `yaml:"type"`
	HNSWM        int    `yaml:"hnsw_m"`
	HNSWEfSearch int    `yaml:"hnsw_ef_search"`
	PGDSN        string `yaml:"pg_dsn"`
	PGTable      string `yaml:"pg_table"`
}

// GenerationConfig selects the generation store backend.
type GenerationConfig struct {
	Backend string `yaml:"backend"`
}

// KeywordConfig toggles the bleve keyword mirror of chunk text.
type KeywordConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SyncConfig holds run-level settings.
type SyncConfig struct {
	Workers int `yaml:"workers"`
	// ReuseUnchanged takes records of documents whose whole-file hash is unchanged
	// from the previous generation instead of re-chunking them. Defaults to true.
	ReuseUnchanged *bool `yaml:"reuse_unchanged"`
}

// ReuseUnchangedOrDefault returns whether unchanged documents are reused; defaults to true when unset.
func (s *SyncConfig) ReuseUnchangedOrDefault() bool {
	if s.ReuseUnchanged != nil {
		return *s.ReuseUnchanged
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DebounceDuration parses Debounce. An empty value means one second.
func (w WatchConfig) DebounceDuration() (time.Duration, error) {
	if w.Debounce == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(w.Debounce)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: watch.debounce must be a positive duration, got %q", ErrInvalid, w.Debounce)
	}
	return d, nil
}

// Load reads and parses the config file at path, applies defaults, expands paths,
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Corpus.Root = expandPath(cfg.Corpus.Root, configDir)
	cfg.Data.Dir = expandPath(cfg.Data.Dir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it is non-empty and exists; otherwise it returns
// the defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadDotEnv loads environment variables from the given .env files (default ".env").
// Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// envOverrides are read with the RAGSYNC prefix. Nil pointers mean "not set".
type envOverrides struct {
	CorpusRoot        *string  `envconfig:"CORPUS_ROOT"`
	IgnoreDirs        []string `envconfig:"IGNORE_DIRS"`
	DataDir           *string  `envconfig:"DATA_DIR"`
	Debug             *bool    `envconfig:"DEBUG"`
	EmbeddingProvider *string  `envconfig:"EMBEDDING_PROVIDER"`
	OpenAIAPIKey      *string  `envconfig:"OPENAI_API_KEY"`
	VectorType        *string  `envconfig:"VECTOR_TYPE"`
}

// legacyEnv are the unprefixed names used by earlier ingestion scripts.
type legacyEnv struct {
	KnowledgeBaseDir *string  `envconfig:"KNOWLEDGE_BASE_DIR"`
	IgnoreDirs       []string `envconfig:"IGNORE_DIRS"`
}

// ApplyEnv overlays environment variables on cfg. Prefixed names win over legacy names.
func ApplyEnv(cfg *Config) error {
	var legacy legacyEnv
	if err := envconfig.Process("", &legacy); err != nil {
		return fmt.Errorf("%w: process legacy env: %v", ErrInvalid, err)
	}
	if legacy.KnowledgeBaseDir != nil {
		cfg.Corpus.Root = *legacy.KnowledgeBaseDir
	}
	if legacy.IgnoreDirs != nil {
		cfg.Corpus.IgnoreDirs = nonEmpty(legacy.IgnoreDirs)
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("%w: process env: %v", ErrInvalid, err)
	}
	if env.CorpusRoot != nil {
		cfg.Corpus.Root = *env.CorpusRoot
	}
	if env.IgnoreDirs != nil {
		cfg.Corpus.IgnoreDirs = nonEmpty(env.IgnoreDirs)
	}
	if env.DataDir != nil {
		cfg.Data.Dir = *env.DataDir
	}
	if env.Debug != nil {
		cfg.Debug = *env.Debug
	}
	if env.EmbeddingProvider != nil {
		cfg.Embedding.Provider = *env.EmbeddingProvider
	}
	if env.OpenAIAPIKey != nil {
		cfg.Embedding.APIKey = *env.OpenAIAPIKey
	}
	if env.VectorType != nil {
		cfg.Vector.Type = *env.VectorType
	}
	return nil
}

// Validate checks settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if err := ValidateChunking(c.Chunking.Size, c.Chunking.Overlap); err != nil {
		return err
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive, got %d", ErrInvalid, c.Embedding.Dimensions)
	}
	switch c.Embedding.Provider {
	case ProviderMock, ProviderONNX, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalid, c.Embedding.Provider)
	}
	switch c.Vector.Type {
	case VectorMemory, VectorHNSW, VectorFAISS:
	case VectorPGVector:
		if c.Vector.PGDSN == "" {
			return fmt.Errorf("%w: vector.pg_dsn is required for pgvector", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown vector index type %q", ErrInvalid, c.Vector.Type)
	}
	switch c.Generation.Backend {
	case GenerationJSONL, GenerationSQLite:
	default:
		return fmt.Errorf("%w: unknown generation backend %q", ErrInvalid, c.Generation.Backend)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("%w: data.dir must be set", ErrInvalid)
	}
	if _, err := c.Watch.DebounceDuration(); err != nil {
		return err
	}
	return nil
}

// ValidateChunking rejects window parameters the chunker cannot honor.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalid, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalid, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalid, overlap, size)
	}
	return nil
}

// expandPath makes "./"-relative paths relative to configDir. Absolute paths and
// other relative paths are returned unchanged; "~/" expands to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
