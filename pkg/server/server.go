// Package server exposes the stored digest history as a read-only JSON API.
// It only serves what previous runs persisted; it never triggers fetches or
// summary generation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/internal/timeutil"
	"github.com/rkoval/trendigest/pkg/digest"
)

// Server provides the HTTP API over stored digests.
type Server struct {
	store    store.Store
	pipeline *digest.Pipeline
	port     int
	log      *slog.Logger
}

// New creates a server. The pipeline is used only for view building from
// stored rows, never for ingestion.
func New(s store.Store, pipeline *digest.Pipeline, port int, log *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: s, pipeline: pipeline, port: port, log: log}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/digest", s.handleDigest)
	mux.HandleFunc("/api/v1/dates", s.handleDates)
	return mux
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("api server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDigest serves the stored view rows for one day. date defaults to
// the most recent stored day.
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ctx := r.Context()

	var day time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := timeutil.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("bad date %q, want YYYY-MM-DD", raw)})
			return
		}
		day = parsed
	} else {
		dates, err := s.store.GHDailyDates(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if len(dates) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no stored digests"})
			return
		}
		day = dates[0]
	}

	repos, err := s.pipeline.RepoViews(ctx, day, false)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	stories, err := s.pipeline.StoryViews(ctx, day, false)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(repos) == 0 && len(stories) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no digest stored for " + timeutil.Format(day)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"day":        timeutil.Format(day),
		"github":     repos,
		"hackernews": stories,
	})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ctx := r.Context()

	ghDates, err := s.store.GHDailyDates(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	hnDates, err := s.store.HNDailyDates(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"github":     formatDates(ghDates),
		"hackernews": formatDates(hnDates),
	})
}

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = timeutil.Format(d)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
