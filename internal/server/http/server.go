// Package httpserver provides the HTTP API of the literature sync service.
package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/database"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// SyncService is the application surface the HTTP server exposes.
// ingest.Service implements it.
type SyncService interface {
	StartAsync(ctx context.Context, mode domain.SyncMode, trigger domain.SyncTrigger) (*domain.SyncRun, error)
	Cancel(runID uuid.UUID) error
	LatestRun(ctx context.Context) (*domain.SyncRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error)
	ListRuns(ctx context.Context, filter repository.SyncRunFilter) ([]*domain.SyncRun, int64, error)

	ListRecords(ctx context.Context, filter repository.RecordFilter) ([]*domain.LiteratureRecord, int64, error)
	GetRecord(ctx context.Context, externalID string) (*domain.LiteratureRecord, error)
	Stats(ctx context.Context) (*domain.RecordStats, error)
	KeyTerms(ctx context.Context, limit int) ([]domain.KeyTermCount, error)
	ExportCSV(ctx context.Context, w io.Writer, filter repository.RecordFilter) (int, error)

	Settings(ctx context.Context) (map[string]string, error)
	UpdateSettings(ctx context.Context, values map[string]string) error

	Backfill(ctx context.Context, limit int) (*annotation.BackfillResult, error)

	GenerateSummary(ctx context.Context, language string, force bool) (*annotation.SummaryResult, error)
	LatestSummary(ctx context.Context, language string) (*domain.ResearchSummary, error)
	SummaryVersions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error)
	Timeline(ctx context.Context, filter repository.TimelineFilter) ([]*domain.TimelineEntry, int64, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	svc        SyncService
	health     HealthChecker
	logger     zerolog.Logger

	triggerLimit  int
	triggerWindow time.Duration
	pollInterval  time.Duration
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// TriggerRateLimit is the number of trigger requests allowed per IP
	// within TriggerRateWindow. Zero disables the limit.
	TriggerRateLimit  int
	TriggerRateWindow time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, svc SyncService, health HealthChecker, logger zerolog.Logger) *Server {
	if cfg.TriggerRateWindow <= 0 {
		cfg.TriggerRateWindow = time.Minute
	}
	s := &Server{
		svc:           svc,
		health:        health,
		logger:        logger.With().Str("component", "http-server").Logger(),
		triggerLimit:  cfg.TriggerRateLimit,
		triggerWindow: cfg.TriggerRateWindow,
		pollInterval:  sseQueryInterval,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(accessLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.triggerLimit > 0 {
				r.Use(httprate.Limit(
					s.triggerLimit,
					s.triggerWindow,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						writeError(w, http.StatusTooManyRequests, "too many sync triggers, retry later")
					}),
				))
			}
			r.Post("/sync/rebuild", s.startRebuild)
			r.Post("/sync/update", s.startUpdate)
			r.Post("/annotations/backfill", s.backfillAnnotations)
			r.Post("/summaries/generate", s.generateSummary)
		})

		r.Get("/sync/runs", s.listRuns)
		r.Get("/sync/runs/latest", s.getLatestRun)
		r.Get("/sync/runs/{runID}", s.getRun)
		r.Get("/sync/runs/{runID}/progress", s.streamProgress)
		r.Post("/sync/runs/{runID}/cancel", s.cancelRun)

		r.Get("/records", s.listRecords)
		r.Get("/records/{pmid}", s.getRecord)
		r.Get("/stats", s.getStats)
		r.Get("/key-terms", s.getKeyTerms)
		r.Get("/export.csv", s.exportCSV)

		r.Get("/summaries/{language}", s.getSummary)
		r.Get("/summaries/{language}/versions", s.listSummaryVersions)
		r.Get("/timeline", s.getTimeline)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports ready once the database answers.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
