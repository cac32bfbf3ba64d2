// Package server provides the HTTP API for ragsync.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/models"
	"github.com/hyperjump/ragsync/internal/search"
)

// Syncer runs and reports reconciliation passes.
type Syncer interface {
	Run(ctx context.Context, opts indexer.RunOptions) (*models.SyncSummary, error)
	Status(ctx context.Context, opts indexer.RunOptions) (*indexer.Status, error)
}

// Searcher answers retrieval queries.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Hit, error)
	KeywordSearch(ctx context.Context, query string, k int, opts *keyword.SearchOptions) ([]search.Hit, error)
}

// Server is the HTTP server for the ragsync API.
type Server struct {
	syncer   Syncer
	searcher Searcher
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server

	// runMu is held for the length of a sync triggered through the API.
	runMu sync.Mutex
}

// NewServer creates a server with the given dependencies.
func NewServer(syncer Syncer, searcher Searcher, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		syncer:   syncer,
		searcher: searcher,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(middleware.Compress(5))
			r.Get("/status", s.handleStatus)
			r.Get("/search", s.handleSearch)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
