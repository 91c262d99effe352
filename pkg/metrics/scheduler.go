package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	runSucceeded = "success"
	runFailed    = "failure"
)

// SchedulerMetrics records cron worker job runs and the items each run settled, such as
// stale uploads failed or statuses transitioned.
type SchedulerMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
}

// NewSchedulerMetrics registers the scheduler metrics. A nil registerer yields no-op metrics.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Duration of scheduled reconciliation jobs in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Scheduled job runs by result.",
	}, []string{"job", "result"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_items_total",
		Help: "Items changed by scheduled jobs, by outcome.",
	}, []string{"job", "outcome"})
	reg.MustRegister(duration, runs, items)
	return &SchedulerMetrics{duration: duration, runs: runs, items: items}
}

// ObserveRun records one run of job and whether it returned an error.
func (m *SchedulerMetrics) ObserveRun(job string, duration time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	result := runSucceeded
	if err != nil {
		result = runFailed
	}
	m.runs.WithLabelValues(job, result).Inc()
}

// AddOutcome adds the per-outcome counts a run reported. Zero counts are skipped.
func (m *SchedulerMetrics) AddOutcome(job string, outcome map[string]int) {
	if m == nil || m.items == nil {
		return
	}
	job = normalizeLabel(job)
	keys := make([]string, 0, len(outcome))
	for k := range outcome {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if n := outcome[k]; n > 0 {
			m.items.WithLabelValues(job, normalizeLabel(k)).Add(float64(n))
		}
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
