package gate

import (
	"sync"
	"time"
)

// Health tracks the freshest health signals of the single producing device.
// Writers are health-check ticks; the reader is the capture path, which takes
// a consistent Snapshot at the moment of evaluation.
type Health struct {
	mu      sync.RWMutex
	signals Signals
}

// NewHealth returns an empty Health where nothing has been observed yet.
func NewHealth() *Health {
	return &Health{}
}

// MarkLinkAck records an acknowledgment from the receiving peer.
func (h *Health) MarkLinkAck(at time.Time) {
	h.mu.Lock()
	h.signals.LinkLastAckAt = at
	h.mu.Unlock()
}

// MarkSensorHealthy records a successful read of the inertial sensor.
func (h *Health) MarkSensorHealthy(at time.Time) {
	h.mu.Lock()
	h.signals.SensorLastHealthyAt = at
	h.mu.Unlock()
}

// MarkPositionFix records a position report. A report without a valid fix
// clears the validity flag but leaves the last fix time untouched.
func (h *Health) MarkPositionFix(at time.Time, valid bool, satellites int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.signals.PositionValid = valid
	h.signals.Satellites = satellites
	if valid {
		h.signals.PositionLastFixAt = at
	}
}

// StartHold records the moment the operator engaged the capture control.
func (h *Health) StartHold(at time.Time) {
	h.mu.Lock()
	h.signals.HoldStartedAt = at
	h.mu.Unlock()
}

// ReleaseHold clears the hold timer.
func (h *Health) ReleaseHold() {
	h.mu.Lock()
	h.signals.HoldStartedAt = time.Time{}
	h.mu.Unlock()
}

// Snapshot returns a copy of all signals taken under one lock.
func (h *Health) Snapshot() Signals {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.signals
}

// Evaluate takes a snapshot and evaluates it against p.
func (h *Health) Evaluate(now time.Time, p Policy) Decision {
	return Evaluate(now, h.Snapshot(), p)
}
