package api

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"airguard.dev/gateway/internal/store"
)

// ServiceName is the service reported by the gRPC health endpoint.
const ServiceName = "airguard.gateway"

// HealthReporter drives the standard gRPC health service from periodic
// store pings and the bus connection state.
type HealthReporter struct {
	logger   *slog.Logger
	store    store.Store
	bus      BusStatus
	server   *health.Server
	interval time.Duration
}

// NewHealthReporter creates a reporter that checks s and bus every interval.
// bus may be nil.
func NewHealthReporter(s store.Store, bus BusStatus, logger *slog.Logger, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthReporter{
		logger:   logger.With("component", "grpc-health"),
		store:    s,
		bus:      bus,
		server:   hs,
		interval: interval,
	}
}

// Register adds the health service to srv.
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Check pings the store once, reads the bus state and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if h.bus != nil && !h.bus.IsConnected() {
		h.logger.Warn("message bus disconnected")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Run checks until ctx is cancelled, then marks every service as not serving.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
