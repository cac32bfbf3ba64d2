package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/indexer"
	"github.com/hyperjump/ragsync/internal/keyword"
	"github.com/hyperjump/ragsync/internal/search"
)

type syncRequest struct {
	Full   bool `json:"full"`
	DryRun bool `json:"dry_run"`
}

type searchResponse struct {
	Query string       `json:"query"`
	Mode  string       `json:"mode"`
	Hits  []search.Hit `json:"hits"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.runMu.TryLock() {
		s.respondError(w, http.StatusConflict, indexer.ErrRunInProgress.Error())
		return
	}
	defer s.runMu.Unlock()

	s.logger.Debug("sync request", zap.Bool("full", req.Full), zap.Bool("dry_run", req.DryRun))
	summary, err := s.syncer.Run(r.Context(), indexer.RunOptions{Full: req.Full, DryRun: req.DryRun})
	switch {
	case errors.Is(err, indexer.ErrRunInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	case indexer.IsConfigError(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("sync failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.respondJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.syncer.Status(r.Context(), indexer.RunOptions{})
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := search.DefaultK
	if raw := q.Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}
	mode := q.Get("mode")
	if mode == "" {
		mode = "vector"
	}

	var (
		hits []search.Hit
		err  error
	)
	switch mode {
	case "vector":
		hits, err = s.searcher.Search(r.Context(), query, k)
	case "keyword":
		hits, err = s.searcher.KeywordSearch(r.Context(), query, k, &keyword.SearchOptions{SourceBoost: 2})
	default:
		s.respondError(w, http.StatusBadRequest, "mode must be vector or keyword")
		return
	}
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, search.ErrKeywordDisabled):
		s.respondError(w, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Query: query, Mode: mode, Hits: hits})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
