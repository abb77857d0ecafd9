// Package jobs reports Prometheus metrics for the reminder worker: scheduler
// ticks, individual reminder sends and notification outbox drains.
package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
)

// Job types.
const (
	// JobTypeReminderTick is one pass over the requests with a reminder due.
	JobTypeReminderTick = "reminder_tick"
	// JobTypeReminderSend is the reminder round for a single request.
	JobTypeReminderSend = "reminder_send"
	JobTypeOutboxDrain  = "notification_outbox_drain"
)

// Run outcomes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Error types.
const (
	ErrorTypeTimeout      = "timeout"
	ErrorTypeCanceled     = "canceled"
	ErrorTypeInvalidState = "invalid_state"
	ErrorTypeInternal     = "internal_error"
	// ErrorTypeLinkExpired counts recipients a reminder could not reach
	// because their access link expired or was revoked.
	ErrorTypeLinkExpired = "link_expired"
)

// Reporter is the subset of Metrics a job reports to.
type Reporter interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

var _ Reporter = (*Metrics)(nil)

// RecordRun reports one finished run of jobType. A nil Reporter records
// nothing.
func RecordRun(r Reporter, jobType string, d time.Duration, failed bool) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if failed {
		status = StatusFailure
	}
	r.IncJobsTotal(jobType, status)
	r.ObserveJobDuration(jobType, d.Seconds())
}

// Metrics holds the job collectors. It is safe for concurrent use.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job runs by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: MetricBackgroundJobsDuration,
				Help: "Background job run duration in seconds by job type",
				// A tick is bounded by the scheduler timeout, two minutes by default.
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Total number of background job errors by job type and error type",
			},
			[]string{"job_type", "error_type"},
		),
	}
}

// Register registers the collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.jobsTotal, m.jobsDuration, m.jobErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}
