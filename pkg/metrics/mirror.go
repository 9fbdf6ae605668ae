package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MirrorMetrics contains Prometheus metrics for outbound sample mirroring.
type MirrorMetrics struct {
	QueueDepth   prometheus.Gauge
	Dropped      prometheus.Counter
	SinkWrites   *prometheus.CounterVec
	SinkDuration *prometheus.HistogramVec
}

// NewMirrorMetrics creates mirror metrics and registers them with reg.
func NewMirrorMetrics(reg prometheus.Registerer) *MirrorMetrics {
	m := &MirrorMetrics{
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "mirror",
				Name:      "queue_depth",
				Help:      "Number of samples waiting to be mirrored",
			},
		),
		Dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "mirror",
				Name:      "dropped_total",
				Help:      "Total number of samples dropped because the mirror queue was full",
			},
		),
		SinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "mirror",
				Name:      "sink_writes_total",
				Help:      "Total number of sink writes",
			},
			[]string{"sink", "status"},
		),
		SinkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "mirror",
				Name:      "sink_duration_seconds",
				Help:      "Duration of sink writes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
	}

	registerer(reg).MustRegister(
		m.QueueDepth,
		m.Dropped,
		m.SinkWrites,
		m.SinkDuration,
	)

	return m
}
