package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/elonfeng/trendpulse/internal/cache"
	"github.com/elonfeng/trendpulse/internal/scheduler"
	"github.com/elonfeng/trendpulse/internal/store"
	"github.com/elonfeng/trendpulse/pkg/trend"
)

// CycleRunner runs one collection cycle on demand.
type CycleRunner interface {
	RunOnce(ctx context.Context) (*trend.CycleReport, error)
}

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	cache  cache.Cache
	runner CycleRunner
	port   int
	logger *log.Logger
	router *chi.Mux
}

// New creates a new HTTP server. c may be nil to disable caching and runner
// may be nil to disable on-demand cycles.
func New(s store.Store, c cache.Cache, runner CycleRunner, port int, logger *log.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = log.Default()
	}
	srv := &Server{store: s, cache: c, runner: runner, port: port, logger: logger}
	srv.router = srv.routes()
	return srv
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/trends", func(r chi.Router) {
			r.Get("/", s.handleTrends)
			r.Get("/{id}", s.handleTrend)
			r.Get("/{id}/snapshots", s.handleSnapshots)
		})
		r.Get("/merge-candidates", s.handleMergeCandidates)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/alerts/events", s.handleAlertEvents)
		r.Post("/cycle", s.handleCycle)
	})
	return r
}

// Handler returns the API's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("server: listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.TrendListOpts{
		MinScore: atoiOr(q.Get("min_score"), 0),
		Region:   strings.ToUpper(q.Get("region")),
		Category: q.Get("category"),
		Limit:    atoiOr(q.Get("limit"), 50),
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}

	key := fmt.Sprintf("list:%d:%s:%s:%d", opts.MinScore, opts.Region, strings.ToLower(opts.Category), opts.Limit)
	var trends []store.Trend
	gen, hit, err := s.cache.Get(r.Context(), key, &trends)
	cacheable := err == nil
	if err != nil {
		s.logger.Printf("server: cache get: %v", err)
	}
	if !hit {
		trends, err = s.store.ListTrends(r.Context(), opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if trends == nil {
			trends = []store.Trend{}
		}
		if cacheable {
			if err := s.cache.Set(r.Context(), gen, key, trends); err != nil {
				s.logger.Printf("server: cache set: %v", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   trends,
		"count":  len(trends),
		"cached": hit,
	})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	id, ok := trendID(w, r)
	if !ok {
		return
	}
	t, err := s.store.GetTrend(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": t})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := trendID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetTrend(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snaps, err := s.store.RecentSnapshots(r.Context(), id, atoiOr(r.URL.Query().Get("limit"), 30))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snaps == nil {
		snaps = []store.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": snaps, "count": len(snaps)})
}

func (s *Server) handleMergeCandidates(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	cands, err := s.store.ListMergeCandidates(r.Context(), !all)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cands == nil {
		cands = []store.MergeCandidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cands, "count": len(cands)})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []store.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": alerts, "count": len(alerts)})
}

func (s *Server) handleAlertEvents(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-7 * 24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		since = t
	}
	events, err := s.store.ListAlertEvents(r.Context(), since, atoiOr(r.URL.Query().Get("limit"), 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []store.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events, "count": len(events)})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("cycles are not enabled"))
		return
	}
	rep, err := s.runner.RunOnce(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rep})
}

func trendID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid trend id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
