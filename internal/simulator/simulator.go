// Package simulator stands in for the capture device: it keeps the device's
// health signals, runs hold-and-capture cycles through the gate and publishes
// allowed batches to the message bus.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"

	"airguard.dev/gateway/internal/gate"
	"airguard.dev/gateway/pkg/metrics"
	"airguard.dev/gateway/pkg/mq"
)

// Config holds the configuration for the Simulator.
type Config struct {
	Logger    *slog.Logger
	Publisher mq.Publisher
	Metrics   *metrics.SimulatorMetrics // Optional
	Policy    gate.Policy

	// HealthInterval is the period of link, sensor and position reports.
	HealthInterval time.Duration
	// CaptureInterval is the time between the starts of two holds.
	CaptureInterval time.Duration
	// HoldDuration is how long the simulated operator holds the control.
	// Defaults to slightly above the policy's hold threshold.
	HoldDuration time.Duration

	// FaultProbability is the chance that one health report is missed.
	FaultProbability float64
	// RedeliveryProbability is the chance that a published batch is sent twice.
	RedeliveryProbability float64

	SamplesPerBatch int
	Seed            uint64 // 0 picks a random seed
	Now             func() time.Time
}

// Simulator drives one simulated device.
type Simulator struct {
	logger    *slog.Logger
	publisher mq.Publisher
	metrics   *metrics.SimulatorMetrics
	config    *Config
	now       func() time.Time

	health *gate.Health
	faker  *gofakeit.Faker
	device *Device

	wg sync.WaitGroup
}

var (
	errInvalidHealthInterval  = errors.New("health interval must be greater than 0")
	errInvalidCaptureInterval = errors.New("capture interval must be greater than 0")
	errInvalidProbability     = errors.New("probabilities must be between 0 and 1")
)

// New creates a new Simulator with the given configuration.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	if cfg.HealthInterval <= 0 {
		return nil, errInvalidHealthInterval
	}

	if cfg.CaptureInterval <= 0 {
		return nil, errInvalidCaptureInterval
	}

	if !probability(cfg.FaultProbability) || !probability(cfg.RedeliveryProbability) {
		return nil, errInvalidProbability
	}

	if cfg.Policy == (gate.Policy{}) {
		cfg.Policy = gate.DefaultPolicy()
	}

	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = cfg.Policy.HoldThreshold + 500*time.Millisecond
	}

	if cfg.SamplesPerBatch <= 0 {
		cfg.SamplesPerBatch = 200
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	faker := gofakeit.New(cfg.Seed)

	return &Simulator{
		logger:    cfg.Logger.With("component", "simulator"),
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		config:    cfg,
		now:       now,
		health:    gate.NewHealth(),
		faker:     faker,
		device:    NewDevice(faker, now()),
	}, nil
}

func probability(p float64) bool {
	return p >= 0 && p <= 1
}

// Health exposes the simulated device's signal state.
func (s *Simulator) Health() *gate.Health {
	return s.health
}

// Run reports health and captures batches until ctx is cancelled or a
// shutdown signal arrives.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.Tick(s.now())

	s.wg.Add(2)
	go s.runHealth(ctx)
	go s.runCaptures(ctx)

	s.logger.Info("simulator started",
		"health_interval", s.config.HealthInterval,
		"capture_interval", s.config.CaptureInterval,
		"hold_duration", s.config.HoldDuration,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.wg.Wait()
	s.logger.Info("simulator stopped")
	return nil
}

func (s *Simulator) runHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

func (s *Simulator) runCaptures(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CaptureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.health.StartHold(s.now())

		hold := time.NewTimer(s.config.HoldDuration)
		select {
		case <-ctx.Done():
			hold.Stop()
			s.health.ReleaseHold()
			return
		case <-hold.C:
		}

		if _, err := s.Capture(ctx, s.now()); err != nil {
			s.logger.Error("failed to publish batch", "error", err)
		}
	}
}

// Tick delivers one round of health reports. Each report is independently
// lost with the configured fault probability.
func (s *Simulator) Tick(now time.Time) {
	if !s.fault() {
		s.health.MarkLinkAck(now)
	}

	if !s.fault() {
		s.health.MarkSensorHealthy(now)
	}

	if s.fault() {
		s.health.MarkPositionFix(now, false, 0)
	} else {
		s.health.MarkPositionFix(now, true, s.faker.IntRange(4, 12))
	}
}

func (s *Simulator) fault() bool {
	p := s.config.FaultProbability
	return p > 0 && s.faker.Float64() < p
}

// Capture ends the current hold, evaluates the gate at now and publishes the
// batch if allowed. Denied batches are logged and discarded.
func (s *Simulator) Capture(ctx context.Context, now time.Time) (gate.Decision, error) {
	if s.metrics != nil {
		timer := prometheus.NewTimer(s.metrics.GenerationDuration)
		defer timer.ObserveDuration()
		s.metrics.CapturesTotal.Inc()
	}

	signals := s.health.Snapshot()
	s.health.ReleaseHold()

	decision := gate.Evaluate(now, signals, s.config.Policy)
	if s.metrics != nil {
		s.metrics.GateDecisions.WithLabelValues(decision.Reason.String()).Inc()
	}

	batchID := s.device.NewBatchID()
	if !decision.Allowed {
		s.logger.Warn("batch discarded by gate",
			"batch_id", batchID,
			"reason", decision.Reason.String(),
		)
		return decision, nil
	}

	payload, err := json.Marshal(s.device.Capture(batchID, now, s.config.SamplesPerBatch, signals))
	if err != nil {
		return decision, fmt.Errorf("failed to marshal batch %s: %w", batchID, err)
	}

	if err := s.publish(ctx, payload); err != nil {
		return decision, fmt.Errorf("failed to publish batch %s: %w", batchID, err)
	}
	s.logger.Info("batch published", "batch_id", batchID)

	if s.config.RedeliveryProbability > 0 && s.faker.Float64() < s.config.RedeliveryProbability {
		if err := s.publish(ctx, payload); err != nil {
			return decision, fmt.Errorf("failed to redeliver batch %s: %w", batchID, err)
		}
		if s.metrics != nil {
			s.metrics.Redeliveries.Inc()
		}
		s.logger.Debug("batch redelivered", "batch_id", batchID)
	}

	return decision, nil
}

func (s *Simulator) publish(ctx context.Context, payload []byte) error {
	if err := s.publisher.Publish(ctx, payload); err != nil {
		if s.metrics != nil {
			reason := "publish_error"
			if errors.Is(err, mq.ErrShutdown) {
				reason = "shutdown"
			}
			s.metrics.PublishFailures.WithLabelValues(reason).Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.BatchesPublished.Inc()
	}
	return nil
}
