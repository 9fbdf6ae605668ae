// Package broadcast fans newly stored samples out to live real-time
// subscribers.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"airguard.dev/gateway/internal/store"
	"airguard.dev/gateway/pkg/metrics"
)

// State is the liveness of a subscriber connection.
type State int32

// Connection states.
const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one subscriber connection. Send must not block on a slow peer.
type Conn interface {
	ID() string
	State() State
	Send(payload []byte) error
	Close() error
}

// Event kinds sent to subscribers.
const (
	EventConnected = "connected"
	EventSample    = "sample"
)

// Event is the envelope of every message pushed to a subscriber.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// connectedData is the payload of the connection acknowledgment.
type connectedData struct {
	ConnectionID string `json:"connectionId"`
}

// ErrHubClosed is returned by Register after Close.
var ErrHubClosed = errors.New("hub is closed")

// Hub owns the live subscriber set.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.BroadcastMetrics // Optional metrics

	mu      sync.RWMutex
	clients map[string]Conn
	closed  bool
}

// NewHub creates an empty hub. m may be nil.
func NewHub(logger *slog.Logger, m *metrics.BroadcastMetrics) *Hub {
	return &Hub{
		logger:  logger.With("component", "broadcast"),
		metrics: m,
		clients: make(map[string]Conn),
	}
}

// Register sends the connection acknowledgment and adds conn to the live
// set. The ack is sent under the write lock, so no broadcast can reach conn
// before it. If the ack cannot be sent the connection is closed and never
// becomes visible.
func (h *Hub) Register(conn Conn) error {
	ack, err := json.Marshal(Event{
		Type: EventConnected,
		Time: time.Now().UTC(),
		Data: connectedData{ConnectionID: conn.ID()},
	})
	if err != nil {
		return fmt.Errorf("failed to encode ack: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if err := conn.Send(ack); err != nil {
		h.mu.Unlock()
		_ = conn.Close()
		if h.metrics != nil {
			h.metrics.EvictionsTotal.WithLabelValues("send_failed").Inc()
		}
		return fmt.Errorf("failed to send ack: %w", err)
	}
	h.clients[conn.ID()] = conn
	count := len(h.clients)
	h.mu.Unlock()

	h.setGauge(count)
	h.logger.Info("subscriber connected", "connection_id", conn.ID(), "subscribers", count)

	return nil
}

// Unregister removes the connection with the given id. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.setGauge(count)
	if h.metrics != nil {
		h.metrics.EvictionsTotal.WithLabelValues("unregistered").Inc()
	}
	h.logger.Info("subscriber disconnected", "connection_id", id, "subscribers", count)
}

// Broadcast delivers sample to every live subscriber. Connections that are
// not open or fail to accept the event are removed and closed; no error
// reaches the caller.
func (h *Hub) Broadcast(sample *store.Sample) {
	start := time.Now()

	payload, err := json.Marshal(Event{
		Type: EventSample,
		Time: start.UTC(),
		Data: sample,
	})
	if err != nil {
		h.logger.Error("failed to encode sample event", "batch_id", sample.BatchID, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]Conn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.State() != StateOpen {
			h.evict(c, "not_open")
			continue
		}
		if err := c.Send(payload); err != nil {
			h.logger.Warn("dropping subscriber after failed send",
				"connection_id", c.ID(),
				"error", err,
			)
			h.evict(c, "send_failed")
			continue
		}
		delivered++
	}

	if h.metrics != nil {
		h.metrics.EventsBroadcast.Inc()
		h.metrics.DeliveriesTotal.WithLabelValues("success").Add(float64(delivered))
		h.metrics.DeliveriesTotal.WithLabelValues("error").Add(float64(len(clients) - delivered))
		h.metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	}

	h.logger.Debug("sample broadcast",
		"batch_id", sample.BatchID,
		"subscribers", len(clients),
		"delivered", delivered,
	)
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every subscriber and refuses further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			h.logger.Debug("error closing subscriber", "connection_id", c.ID(), "error", err)
		}
	}
	h.setGauge(0)
	h.logger.Info("hub closed", "subscribers", len(clients))
}

// evict removes c if it is still the registered connection for its id.
func (h *Hub) evict(c Conn, reason string) {
	h.mu.Lock()
	current, ok := h.clients[c.ID()]
	if ok && current == c {
		delete(h.clients, c.ID())
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok || current != c {
		return
	}

	_ = c.Close()
	h.setGauge(count)
	if h.metrics != nil {
		h.metrics.EvictionsTotal.WithLabelValues(reason).Inc()
	}
}

func (h *Hub) setGauge(count int) {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(count))
	}
}
