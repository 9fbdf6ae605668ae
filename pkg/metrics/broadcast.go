package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BroadcastMetrics contains Prometheus metrics for the real-time fan-out hub.
type BroadcastMetrics struct {
	Subscribers      prometheus.Gauge
	EventsBroadcast  prometheus.Counter
	DeliveriesTotal  *prometheus.CounterVec
	EvictionsTotal   *prometheus.CounterVec
	BroadcastLatency prometheus.Histogram
}

// NewBroadcastMetrics creates fan-out metrics and registers them with reg.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "broadcast",
				Name:      "subscribers",
				Help:      "Number of live real-time subscribers",
			},
		),
		EventsBroadcast: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broadcast",
				Name:      "events_total",
				Help:      "Total number of sample events broadcast",
			},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broadcast",
				Name:      "deliveries_total",
				Help:      "Total number of per-subscriber deliveries",
			},
			[]string{"status"}, // status: success, error
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broadcast",
				Name:      "evictions_total",
				Help:      "Total number of subscribers removed from the live set",
			},
			[]string{"reason"}, // reason: send_failed, not_open, unregistered
		),
		BroadcastLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "broadcast",
				Name:      "duration_seconds",
				Help:      "Time to hand one event to every subscriber",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}

	registerer(reg).MustRegister(
		m.Subscribers,
		m.EventsBroadcast,
		m.DeliveriesTotal,
		m.EvictionsTotal,
		m.BroadcastLatency,
	)

	return m
}
