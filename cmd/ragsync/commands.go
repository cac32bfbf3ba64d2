package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/ragsync/internal/cli"
	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/embedding"
	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/search"
)

func syncCmd(a *app) *cobra.Command {
	var (
		opts   indexer.RunOptions
		ignore []string
		output string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the corpus with the vector index",
		Long: `Chunks every document under the corpus root, diffs the chunk set against the last
committed generation, embeds only new chunks and removes stale ones. The generation is
committed only after the index has been updated and persisted.`,
		Example: `  ragsync sync
  ragsync sync --dry-run
  ragsync sync --root ./knowledge --ignore .git,drafts --data ./data
  ragsync sync --full --output json`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ignore") {
				opts.IgnoreDirs = ignore
			}
			syncer, emb, err := a.newSyncer()
			if err != nil {
				return err
			}
			defer emb.Close()

			summary, err := syncer.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return cli.WriteSummary(cmd.OutOrStdout(), summary, format)
		},
	}
	cmd.Flags().BoolVar(&opts.Full, "full", false, "re-chunk every document instead of reusing unchanged ones")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the changes without embedding or committing")
	cmd.Flags().StringVar(&opts.CorpusRoot, "root", "", "corpus root (overrides config)")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "directory names to skip (overrides config)")
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "data directory (overrides config)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	var (
		dataDir string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the committed generation, ledger and index state",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			syncer, emb, err := a.newSyncer()
			if err != nil {
				return err
			}
			defer emb.Close()

			st, err := syncer.Status(cmd.Context(), indexer.RunOptions{DataDir: dataDir})
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "data directory (overrides config)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func searchCmd(a *app) *cobra.Command {
	var (
		k        int
		useKW    bool
		fuzzy    bool
		output   string
		boostSrc float64
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Retrieve the chunks nearest to a query",
		Long: `Embeds the query with the configured model and returns the nearest chunks from the
committed generation. The query is all remaining arguments joined by spaces.`,
		Example: `  ragsync search what is my email address
  ragsync search -k 3 "release plan"
  ragsync search --keyword --fuzzy relase plan`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			query := buildSearchQuery(args)
			if query == "" {
				return fmt.Errorf("%w: %w", config.ErrInvalid, search.ErrEmptyQuery)
			}
			emb, err := embedding.New(a.cfg.Embedding, a.logger)
			if err != nil {
				return err
			}
			defer emb.Close()

			searcher := search.FromConfig(a.cfg, emb, a.logger)
			defer searcher.Close()
			var hits []search.Hit
			if useKW {
				hits, err = searcher.KeywordSearch(cmd.Context(), query, k,
					&keyword.SearchOptions{SourceBoost: boostSrc, FuzzyEnabled: fuzzy})
			} else {
				hits, err = searcher.Search(cmd.Context(), query, k)
			}
			if errors.Is(err, search.ErrKeywordDisabled) {
				return fmt.Errorf("%w: %w (set keyword.enabled in the config)", config.ErrInvalid, err)
			}
			if err != nil {
				return err
			}
			return cli.WriteHits(cmd.OutOrStdout(), query, hits, format)
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", search.DefaultK, "number of chunks to return")
	cmd.Flags().BoolVar(&useKW, "keyword", false, "search the keyword mirror instead of the vector index")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "typo-tolerant keyword matching")
	cmd.Flags().Float64Var(&boostSrc, "source-boost", 2, "keyword score multiplier for matches in the document path")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragsync version %s\n", version)
		},
	}
}
