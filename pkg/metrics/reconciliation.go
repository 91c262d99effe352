package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics tracks ingestion throughput and job outcomes.
type IngestMetrics struct {
	rows     *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewIngestMetrics registers the ingestion metrics on the provided registerer.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_rows_total",
		Help: "Rows read by the ingestion pipeline, by result.",
	}, []string{"result"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_jobs_total",
		Help: "Ingestion runs by final job status.",
	}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_job_duration_seconds",
		Help:    "Duration of ingestion runs in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	reg.MustRegister(rows, outcomes, duration)
	return &IngestMetrics{rows: rows, outcomes: outcomes, duration: duration}
}

// AddRows counts ingested or skipped rows.
func (m *IngestMetrics) AddRows(result string, n int) {
	if m == nil || m.rows == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}

// ObserveJob records the final status and duration of a run.
func (m *IngestMetrics) ObserveJob(status string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status)).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecomputeMetrics tracks full-population sweeps.
type RecomputeMetrics struct {
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
	failures    prometheus.Counter
}

// NewRecomputeMetrics registers the recompute metrics on the provided registerer.
func NewRecomputeMetrics(reg prometheus.Registerer) *RecomputeMetrics {
	if reg == nil {
		return &RecomputeMetrics{}
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recompute_duration_seconds",
		Help:    "Duration of full recompute sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recompute_status_transitions_total",
		Help: "Reconciliation status writes performed by recompute sweeps.",
	}, []string{"to"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recompute_record_failures_total",
		Help: "Records a sweep could not settle.",
	})
	reg.MustRegister(duration, transitions, failures)
	return &RecomputeMetrics{duration: duration, transitions: transitions, failures: failures}
}

func (m *RecomputeMetrics) ObserveSweep(duration time.Duration, failed int) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(duration.Seconds())
	if failed > 0 {
		m.failures.Add(float64(failed))
	}
}

func (m *RecomputeMetrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}
