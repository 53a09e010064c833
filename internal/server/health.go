package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/helixir/literature-sync-service/internal/database"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "litsync.v1.SyncService"

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// HealthReporter keeps the gRPC health status in step with the database.
type HealthReporter struct {
	server   *health.Server
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	serving bool
	stopped bool
}

// NewHealthReporter creates a reporter. The status starts as NOT_SERVING
// until the first probe succeeds.
func NewHealthReporter(checker HealthChecker, interval time.Duration, logger zerolog.Logger) *HealthReporter {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthReporter{
		server:   hs,
		checker:  checker,
		interval: interval,
		timeout:  defaultProbeTimeout,
		logger:   logger.With().Str("component", "grpc-health").Logger(),
	}
}

// Register attaches the health service to srv.
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Server returns the underlying health server.
func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.server
}

// Run probes the database until ctx is done.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Probe(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

// Probe checks the database once and updates the serving status.
func (h *HealthReporter) Probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := h.checker.Health(probeCtx)
	h.set(status.Healthy(), status.Error)
}

// Shutdown marks the service NOT_SERVING permanently.
func (h *HealthReporter) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.serving = false
	h.server.Shutdown()
}

func (h *HealthReporter) set(serving bool, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || serving == h.serving {
		return
	}
	h.serving = serving

	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
		h.logger.Info().Msg("database reachable, serving")
	} else {
		h.logger.Warn().Str("error", detail).Msg("database unhealthy, not serving")
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(ServiceName, st)
}
