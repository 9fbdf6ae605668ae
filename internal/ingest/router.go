package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
)

// Source identifies the inbound path a submission arrived on.
type Source string

// Inbound paths.
const (
	SourceHTTP Source = "http"
	SourceBus  Source = "bus"
)

// Broadcaster receives every newly stored sample.
type Broadcaster interface {
	Broadcast(sample *store.Sample)
}

// Mirror receives newly stored samples for outbound forwarding. Enqueue must
// not block.
type Mirror interface {
	Enqueue(sample *store.Sample)
}

// RouterConfig holds the configuration for the Router.
type RouterConfig struct {
	Logger      *slog.Logger
	Store       store.Store
	Broadcaster Broadcaster
	Mirror      Mirror                 // Optional
	Metrics     *metrics.IngestMetrics // Optional
	Now         func() time.Time       // Optional, defaults to time.Now
}

// Router funnels every inbound path through one validate, store, broadcast
// sequence.
type Router struct {
	logger      *slog.Logger
	store       store.Store
	broadcaster Broadcaster
	mirror      Mirror
	metrics     *metrics.IngestMetrics
	now         func() time.Time
}

// NewRouter creates a new Router instance.
func NewRouter(cfg *RouterConfig) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Router{
		logger:      cfg.Logger.With("component", "ingest"),
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		mirror:      cfg.Mirror,
		metrics:     cfg.Metrics,
		now:         now,
	}, nil
}

// SubmitPayload decodes a JSON payload and submits it.
func (r *Router) SubmitPayload(ctx context.Context, src Source, payload []byte) (*store.Sample, error) {
	raw, err := Decode(payload)
	if err != nil {
		r.record(src, metrics.OutcomeInvalid, time.Now())
		return nil, err
	}
	return r.Submit(ctx, src, raw)
}

// Submit validates raw, stores it and broadcasts it when it is new.
//
// The returned error is ErrInvalidSample or ErrDuplicateBatch (both wrapped)
// for rejected submissions; any other error means the store failed.
func (r *Router) Submit(ctx context.Context, src Source, raw *RawSample) (*store.Sample, error) {
	start := time.Now()

	sample, err := raw.Normalize(r.now())
	if err != nil {
		r.record(src, metrics.OutcomeInvalid, start)
		r.logger.Debug("rejected invalid sample", "source", src, "error", err)
		return nil, err
	}

	sample.StoredAt = r.now().UTC()

	result, err := r.store.Insert(ctx, sample)
	if err != nil {
		r.record(src, metrics.OutcomeError, start)
		return nil, fmt.Errorf("failed to store batch %s: %w", sample.BatchID, err)
	}

	if result == store.Duplicate {
		r.record(src, metrics.OutcomeDuplicate, start)
		r.logger.Debug("duplicate batch", "source", src, "batch_id", sample.BatchID)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBatch, sample.BatchID)
	}

	r.broadcaster.Broadcast(sample)
	if r.mirror != nil {
		r.mirror.Enqueue(sample)
	}

	r.record(src, metrics.OutcomeCreated, start)
	r.logger.Info("sample stored",
		"source", src,
		"batch_id", sample.BatchID,
		"samples", sample.SampleCount,
		"gps_fix", sample.FixValid,
	)

	return sample, nil
}

func (r *Router) record(src Source, outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.SubmissionsTotal.WithLabelValues(string(src), outcome).Inc()
	r.metrics.SubmitDuration.WithLabelValues(string(src)).Observe(time.Since(start).Seconds())
}
