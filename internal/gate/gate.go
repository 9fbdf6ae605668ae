// Package gate decides whether a captured telemetry batch may be transmitted.
//
// The evaluator is a pure function of the health signals observed on the
// device and the operator hold timer. Callers own the signal state (see Health)
// and are responsible for discarding denied batches.
package gate

import (
	"time"
)

// Reason identifies why a batch was denied.
type Reason int

const (
	// ReasonNone is reported with an allowed decision.
	ReasonNone Reason = iota
	// ReasonHoldTooShort means the operator released before the hold threshold.
	ReasonHoldTooShort
	// ReasonLinkDown means no ack was received from the peer within the link timeout.
	ReasonLinkDown
	// ReasonSensorUnhealthy means the inertial sensor has not reported recently.
	ReasonSensorUnhealthy
	// ReasonNoPositionFix means the positioning subsystem has no usable fix.
	ReasonNoPositionFix
)

// String returns the label used in logs and metrics.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonHoldTooShort:
		return "hold_too_short"
	case ReasonLinkDown:
		return "link_down"
	case ReasonSensorUnhealthy:
		return "sensor_unhealthy"
	case ReasonNoPositionFix:
		return "no_position_fix"
	default:
		return "unknown"
	}
}

// Policy holds the thresholds used by Evaluate.
type Policy struct {
	HoldThreshold   time.Duration
	LinkTimeout     time.Duration
	SensorTimeout   time.Duration
	PositionTimeout time.Duration
}

// DefaultPolicy returns the thresholds the device firmware ships with.
func DefaultPolicy() Policy {
	return Policy{
		HoldThreshold:   10 * time.Second,
		LinkTimeout:     5 * time.Second,
		SensorTimeout:   1200 * time.Millisecond,
		PositionTimeout: 2 * time.Second,
	}
}

// Signals is a point-in-time view of the device health.
// A zero timestamp means the signal was never observed.
type Signals struct {
	HoldStartedAt       time.Time
	LinkLastAckAt       time.Time
	SensorLastHealthyAt time.Time
	PositionLastFixAt   time.Time
	PositionValid       bool
	Satellites          int
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the decision returned when every condition holds.
func Allow() Decision {
	return Decision{Allowed: true, Reason: ReasonNone}
}

// Deny returns a denying decision with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate checks the conditions in priority order and reports the first one
// that fails: hold duration, link liveness, sensor health, position fix.
func Evaluate(now time.Time, s Signals, p Policy) Decision {
	if s.HoldStartedAt.IsZero() || now.Sub(s.HoldStartedAt) < p.HoldThreshold {
		return Deny(ReasonHoldTooShort)
	}

	if !fresh(now, s.LinkLastAckAt, p.LinkTimeout) {
		return Deny(ReasonLinkDown)
	}

	if !fresh(now, s.SensorLastHealthyAt, p.SensorTimeout) {
		return Deny(ReasonSensorUnhealthy)
	}

	if !s.PositionValid || s.Satellites < 1 || !fresh(now, s.PositionLastFixAt, p.PositionTimeout) {
		return Deny(ReasonNoPositionFix)
	}

	return Allow()
}

// fresh reports whether a signal seen at last is younger than timeout.
func fresh(now, last time.Time, timeout time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < timeout
}
