package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes used as the "outcome" label.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// IngestMetrics contains Prometheus metrics for the ingest router and the sample store.
type IngestMetrics struct {
	SubmissionsTotal    *prometheus.CounterVec
	SubmitDuration      *prometheus.HistogramVec
	DBOperationsTotal   *prometheus.CounterVec
	DBOperationDuration *prometheus.HistogramVec
}

// NewIngestMetrics creates ingest metrics and registers them with reg
// (the global Registry when reg is nil).
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "submissions_total",
				Help:      "Total number of submitted samples by source and outcome",
			},
			[]string{"source", "outcome"}, // outcome: created, duplicate, invalid, error
		),
		SubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "submit_duration_seconds",
				Help:      "Duration of sample submission including store and fan-out",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		DBOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "db",
				Name:      "operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "status"}, // operation: insert, get, list
		),
		DBOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "db",
				Name:      "operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registerer(reg).MustRegister(
		m.SubmissionsTotal,
		m.SubmitDuration,
		m.DBOperationsTotal,
		m.DBOperationDuration,
	)

	return m
}
