package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/search"
	"github.com/hyperjump/ragsync/internal/server"
	"github.com/hyperjump/ragsync/internal/watcher"
)

func watchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync once, then again after every burst of corpus changes",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			syncer, emb, err := a.newSyncer()
			if err != nil {
				return err
			}
			defer emb.Close()

			if _, err := syncer.Run(ctx, indexer.RunOptions{}); err != nil {
				return err
			}
			w, err := a.startWatcher(ctx, syncer)
			if err != nil {
				return err
			}
			<-ctx.Done()
			a.logger.Info("shutting down watcher")
			w.Stop()
			return nil
		},
	}
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serves POST /api/v1/sync, GET /api/v1/status, GET /api/v1/search?q=&k= and GET /health.
With --watch the corpus is also watched and synced after every burst of changes.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			syncer, emb, err := a.newSyncer()
			if err != nil {
				return err
			}
			defer emb.Close()
			searcher := search.FromConfig(a.cfg, emb, a.logger)
			defer searcher.Close()

			if watch {
				w, err := a.startWatcher(ctx, syncer)
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			srv := server.NewServer(syncer, searcher, &a.cfg.Server, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "also watch the corpus and sync on changes")
	return cmd
}

// startWatcher runs one sync per settled burst of changes under the corpus root.
// A burst that arrives while another process holds the run lock is logged and dropped;
// the next burst or sync picks the changes up.
func (a *app) startWatcher(ctx context.Context, syncer *indexer.Syncer) (*watcher.Watcher, error) {
	debounce, err := a.cfg.Watch.DebounceDuration()
	if err != nil {
		return nil, err
	}
	onChange := func(ctx context.Context, names []string) {
		a.logger.Info("corpus changed", zap.Int("paths", len(names)))
		_, err := syncer.Run(ctx, indexer.RunOptions{})
		switch {
		case errors.Is(err, indexer.ErrRunInProgress):
			a.logger.Warn("sync skipped, another run holds the lock")
		case err != nil:
			a.logger.Error("watch sync failed", zap.Error(err))
		}
	}
	w := watcher.New(a.cfg.Corpus.Root, a.cfg.Corpus.IgnoreDirs, a.cfg.Corpus.Extensions, onChange,
		watcher.WithDebounce(debounce), watcher.WithLogger(a.logger))
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("watching corpus", zap.String("root", a.cfg.Corpus.Root), zap.Duration("debounce", debounce))
	return w, nil
}
