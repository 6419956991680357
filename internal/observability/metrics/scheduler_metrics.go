package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/railmeter/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonLockContention   = "lock_contention"
	SchedulerJobReasonUnknown          = "unknown"
)

// SchedulerMetrics captures reconciliation job health.
type SchedulerMetrics struct {
	registry    *prometheus.Registry
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	drift       *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewSchedulerMetrics registers the job collectors on their own registry so
// the scheduler can also push them to a pushgateway.
func NewSchedulerMetrics(cfg Config) *SchedulerMetrics {
	labels := serviceLabels(cfg)
	m := &SchedulerMetrics{
		registry: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "railmeter_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "railmeter_scheduler_job_errors_total",
			Help:        "Scheduler job failures by name and reason.",
			ConstLabels: labels,
		}, []string{"job", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "railmeter_scheduler_job_duration_seconds",
			Help:        "Scheduler job duration.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"job"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "railmeter_rollup_drift_total",
			Help:        "Rollup rows found diverging from the usage ledger.",
			ConstLabels: labels,
		}, []string{"event_key"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "railmeter_scheduler_job_last_success_timestamp_seconds",
			Help:        "Unix time of the last successful run.",
			ConstLabels: labels,
		}, []string{"job"}),
	}
	m.registry.MustRegister(m.jobRuns, m.jobErrors, m.jobDuration, m.drift, m.lastSuccess)
	return m
}

// Gatherer exposes the scheduler registry for /metrics and pushgateway.
func (m *SchedulerMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *SchedulerMetrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
		return
	}
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (m *SchedulerMetrics) AddDrift(eventKey string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.drift.WithLabelValues(eventKey).Add(float64(rows))
}

func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsRetryableTxErr(err):
		return SchedulerJobReasonLockContention
	default:
		return SchedulerJobReasonUnknown
	}
}
