// Package relay bridges the message bus to the ingest router.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"airguard.dev/gateway/internal/ingest"
	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/mq"
)

// Submitter is the part of the ingest router the relay needs.
type Submitter interface {
	SubmitPayload(ctx context.Context, src ingest.Source, payload []byte) (*store.Sample, error)
}

// Config holds the configuration for the Relay.
type Config struct {
	Logger     *slog.Logger
	Subscriber mq.Subscriber
	Router     Submitter
}

// Relay consumes bus messages and submits each to the router. Duplicate
// detection is left entirely to the router.
type Relay struct {
	logger     *slog.Logger
	subscriber mq.Subscriber
	router     Submitter

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	err    error
}

// New creates a new Relay instance.
func New(cfg *Config) (*Relay, error) {
	if cfg == nil {
		return nil, errors.New("relay config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Subscriber == nil {
		return nil, errors.New("subscriber cannot be nil")
	}

	if cfg.Router == nil {
		return nil, errors.New("router cannot be nil")
	}

	return &Relay{
		logger:     cfg.Logger.With("component", "relay"),
		subscriber: cfg.Subscriber,
		router:     cfg.Router,
	}, nil
}

// Start begins consuming in the background.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return errors.New("relay already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	r.logger.Info("starting relay")
	go func() {
		defer close(r.done)
		if err := r.subscriber.Subscribe(ctx, r.Handle); err != nil {
			r.logger.Error("subscription ended with error", "error", err)
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		}
	}()

	return nil
}

// Handle processes one bus message. Invalid and duplicate samples are
// consumed; only store failures are returned so the bus can redeliver.
func (r *Relay) Handle(ctx context.Context, payload []byte) error {
	sample, err := r.router.SubmitPayload(ctx, ingest.SourceBus, payload)
	switch {
	case err == nil:
		r.logger.Debug("relayed sample", "batch_id", sample.BatchID)
		return nil

	case errors.Is(err, ingest.ErrDuplicateBatch):
		r.logger.Debug("absorbed redelivered batch", "error", err)
		return nil

	case errors.Is(err, ingest.ErrInvalidSample):
		r.logger.Warn("dropping invalid bus message",
			"error", err,
			"bytes", len(payload),
		)
		return nil

	default:
		return fmt.Errorf("failed to relay message: %w", err)
	}
}

// Stop cancels the subscription and waits for the consumer to exit.
func (r *Relay) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}

	r.logger.Info("stopping relay")
	cancel()
	<-done
	r.logger.Info("relay stopped")

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the subscription has ended.
func (r *Relay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
