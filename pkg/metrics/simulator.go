package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the device simulator.
type SimulatorMetrics struct {
	CapturesTotal      prometheus.Counter
	GateDecisions      *prometheus.CounterVec
	BatchesPublished   prometheus.Counter
	Redeliveries       prometheus.Counter
	PublishFailures    *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
}

// NewSimulatorMetrics creates simulator metrics and registers them with reg.
func NewSimulatorMetrics(reg prometheus.Registerer) *SimulatorMetrics {
	m := &SimulatorMetrics{
		CapturesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "captures_total",
				Help:      "Total number of capture attempts",
			},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "gate_decisions_total",
				Help:      "Total number of gate decisions by reason",
			},
			[]string{"reason"}, // reason: none (allowed), hold_too_short, link_down, ...
		),
		BatchesPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "batches_published_total",
				Help:      "Total number of batches published to the bus",
			},
		),
		Redeliveries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "redeliveries_total",
				Help:      "Total number of deliberately republished batches",
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "publish_failures_total",
				Help:      "Total number of batch publish failures",
			},
			[]string{"reason"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "simulator",
				Name:      "capture_duration_seconds",
				Help:      "Duration of batch generation and publish",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registerer(reg).MustRegister(
		m.CapturesTotal,
		m.GateDecisions,
		m.BatchesPublished,
		m.Redeliveries,
		m.PublishFailures,
		m.GenerationDuration,
	)

	return m
}
