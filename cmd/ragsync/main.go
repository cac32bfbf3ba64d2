// Package main is the ragsync CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/embedding"
	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ragsync/config.yaml"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// app holds what every command needs once flags are parsed.
type app struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if indexer.IsConfigError(err) {
		return exitConfig
	}
	return exitFailed
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ragsync",
		Short: "ragsync - keep a vector index in sync with a document corpus",
		Long: `ragsync chunks the documents under a corpus root into content-addressed chunks,
diffs them against the last committed generation and applies only the additions and
removals to the vector index.

Environment variables:
  RAGSYNC_CORPUS_ROOT      corpus root (legacy: KNOWLEDGE_BASE_DIR)
  RAGSYNC_IGNORE_DIRS      comma-separated directory names to skip (legacy: IGNORE_DIRS)
  RAGSYNC_DATA_DIR         data directory
  RAGSYNC_OPENAI_API_KEY   API key for the openai embedding provider`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	})

	root.AddCommand(syncCmd(a))
	root.AddCommand(statusCmd(a))
	root.AddCommand(searchCmd(a))
	root.AddCommand(watchCmd(a))
	root.AddCommand(serveCmd(a))
	root.AddCommand(versionCmd())
	return root
}

// init loads .env, the config and the logger.
func (a *app) init() error {
	config.LoadDotEnv()
	cfg, path, err := loadConfig(a.configPath)
	if err != nil {
		if !errors.Is(err, config.ErrInvalid) {
			err = fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
		return err
	}
	a.cfg = cfg
	debug := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", debug))
	return nil
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence if it exists. A missing default file yields
// the defaults with environment overrides.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				return cfg, fallback, err
			}
		}
		cfg, err := config.LoadOrDefault(path)
		return cfg, path, err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// newSyncer builds a Syncer around a shared embedder. The caller closes the embedder.
func (a *app) newSyncer() (*indexer.Syncer, embedding.Embedder, error) {
	emb, err := embedding.New(a.cfg.Embedding, a.logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := indexer.NewSyncer(a.cfg, indexer.WithLogger(a.logger), indexer.WithEmbedder(emb))
	if err != nil {
		_ = emb.Close()
		return nil, nil, err
	}
	return s, emb, nil
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
		return nil
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
