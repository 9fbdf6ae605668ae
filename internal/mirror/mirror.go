// Package mirror forwards newly stored samples to secondary destinations
// without slowing down ingestion.
package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
)

// Sink is one mirror destination.
type Sink interface {
	Name() string
	Write(ctx context.Context, sample *store.Sample) error
}

// Config holds the configuration for the Mirror.
type Config struct {
	Logger       *slog.Logger
	Sinks        []Sink
	Metrics      *metrics.MirrorMetrics // Optional
	QueueSize    int                    // Defaults to 256
	Workers      int                    // Defaults to 2
	WriteTimeout time.Duration          // Per sink write, defaults to 10s
}

// Mirror is a bounded queue drained by a worker pool that writes each
// sample to every sink. Samples are dropped when the queue is full.
type Mirror struct {
	logger       *slog.Logger
	sinks        []Sink
	metrics      *metrics.MirrorMetrics
	queue        chan *store.Sample
	workers      int
	writeTimeout time.Duration

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Mirror. Call Start to begin draining the queue.
func New(cfg *Config) (*Mirror, error) {
	if cfg == nil {
		return nil, errors.New("mirror config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if len(cfg.Sinks) == 0 {
		return nil, errors.New("at least one sink is required")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Mirror{
		logger:       cfg.Logger.With("component", "mirror"),
		sinks:        cfg.Sinks,
		metrics:      cfg.Metrics,
		queue:        make(chan *store.Sample, queueSize),
		workers:      workers,
		writeTimeout: writeTimeout,
	}, nil
}

// Start launches the workers. They exit once Stop has drained the queue.
func (m *Mirror) Start(ctx context.Context) {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	m.logger.Info("starting mirror", "workers", m.workers, "sinks", names)

	for range m.workers {
		m.wg.Add(1)
		go m.worker(context.WithoutCancel(ctx))
	}
}

// Enqueue schedules sample for mirroring. It never blocks.
func (m *Mirror) Enqueue(sample *store.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	select {
	case m.queue <- sample:
		if m.metrics != nil {
			m.metrics.QueueDepth.Set(float64(len(m.queue)))
		}
	default:
		if m.metrics != nil {
			m.metrics.Dropped.Inc()
		}
		m.logger.Warn("mirror queue full, dropping sample", "batch_id", sample.BatchID)
	}
}

// Stop refuses new samples and waits for queued ones to be written.
func (m *Mirror) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("mirror stopped")
}

func (m *Mirror) worker(ctx context.Context) {
	defer m.wg.Done()

	for sample := range m.queue {
		if m.metrics != nil {
			m.metrics.QueueDepth.Set(float64(len(m.queue)))
		}
		for _, sink := range m.sinks {
			m.write(ctx, sink, sample)
		}
	}
}

func (m *Mirror) write(ctx context.Context, sink Sink, sample *store.Sample) {
	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	var timer *prometheus.Timer
	if m.metrics != nil {
		timer = prometheus.NewTimer(m.metrics.SinkDuration.WithLabelValues(sink.Name()))
	}
	err := sink.Write(ctx, sample)
	if timer != nil {
		timer.ObserveDuration()
	}

	status := "success"
	if err != nil {
		status = "error"
		m.logger.Error("mirror write failed",
			"sink", sink.Name(),
			"batch_id", sample.BatchID,
			"error", err,
		)
	}
	if m.metrics != nil {
		m.metrics.SinkWrites.WithLabelValues(sink.Name(), status).Inc()
	}
}
