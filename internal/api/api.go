// Package api exposes the gateway over HTTP: the direct write path, the
// historical read path, real-time subscriptions, health and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"airguard.dev/gateway/internal/ingest"
	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
)

// maxBodyBytes bounds a single write request.
const maxBodyBytes = 64 << 10

// Ingester is the write side of the ingest router.
type Ingester interface {
	SubmitPayload(ctx context.Context, src ingest.Source, payload []byte) (*store.Sample, error)
}

// Subscribers is the real-time hub as seen by the API.
type Subscribers interface {
	Count() int
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// BusStatus reports message bus connectivity.
type BusStatus interface {
	IsConnected() bool
}

// Config holds the configuration for the API.
type Config struct {
	Logger       *slog.Logger
	Ingester     Ingester
	Store        store.Store
	Subscribers  Subscribers
	Bus          BusStatus            // Optional; omitted from health when nil
	Metrics      *metrics.HTTPMetrics // Optional
	Gatherer     prometheus.Gatherer  // Optional, defaults to the global registry
	SharedSecret string               // Optional; empty disables the check
}

// API serves the gateway's HTTP routes.
type API struct {
	logger      *slog.Logger
	ingester    Ingester
	store       store.Store
	subscribers Subscribers
	bus         BusStatus
	metrics     *metrics.HTTPMetrics
	gatherer    prometheus.Gatherer
	secret      string
}

// New creates a new API instance.
func New(cfg *Config) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Ingester == nil {
		return nil, errors.New("ingester cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Subscribers == nil {
		return nil, errors.New("subscribers cannot be nil")
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = metrics.Registry
	}

	return &API{
		logger:      cfg.Logger.With("component", "api"),
		ingester:    cfg.Ingester,
		store:       cfg.Store,
		subscribers: cfg.Subscribers,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		gatherer:    gatherer,
		secret:      cfg.SharedSecret,
	}, nil
}

// Handler returns the HTTP routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	// Open endpoints
	mux.Handle("GET /health", a.instrument("/health", http.HandlerFunc(a.handleHealth)))
	mux.Handle("GET /metrics", metrics.HandlerFor(a.gatherer))

	// Protected endpoints
	mux.Handle("POST /api/v1/samples", a.protected("/api/v1/samples", a.handleCreateSample))
	mux.Handle("GET /api/v1/samples", a.protected("/api/v1/samples", a.handleListSamples))
	mux.Handle("GET /api/v1/samples/{batchId}", a.protected("/api/v1/samples/{batchId}", a.handleGetSample))
	mux.Handle("GET /ws", a.instrument("/ws", a.requireSecret(a.subscribers.ServeWS, true)))

	return mux
}

func (a *API) protected(route string, h http.HandlerFunc) http.Handler {
	return a.instrument(route, a.requireSecret(h, false))
}
