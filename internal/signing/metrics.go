package signing

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRequestsActivated   = "esign_requests_activated_total"
	MetricRequestsCompleted   = "esign_requests_completed_total"
	MetricRequestsCancelled   = "esign_requests_cancelled_total"
	MetricSignaturesRecorded  = "esign_signatures_recorded_total"
	MetricTokenValidations    = "esign_token_validations_total"
	MetricSealingFailures     = "esign_sealing_failures_total"
	MetricSealingDuration     = "esign_sealing_duration_seconds"
	MetricNotifications       = "esign_notifications_total"
	MetricAuditAppendFailures = "esign_audit_append_failures_total"
)

// Token validation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
	OutcomeRevoked  = "revoked"
	OutcomeSession  = "session_invalid"
)

// Metrics contains Prometheus metrics for the signing engine.
// All operations are thread-safe, and a nil *Metrics records nothing.
type Metrics struct {
	requestsActivated   prometheus.Counter
	requestsCompleted   prometheus.Counter
	requestsCancelled   prometheus.Counter
	signaturesRecorded  *prometheus.CounterVec
	tokenValidations    *prometheus.CounterVec
	sealingFailures     prometheus.Counter
	sealingDuration     prometheus.Histogram
	notifications       *prometheus.CounterVec
	auditAppendFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRequestsActivated,
			Help: "Total number of signature requests activated",
		}),
		requestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRequestsCompleted,
			Help: "Total number of signature requests completed and sealed",
		}),
		requestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRequestsCancelled,
			Help: "Total number of signature requests cancelled",
		}),
		signaturesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSignaturesRecorded,
			Help: "Total number of field signatures recorded by signature type",
		}, []string{"signature_type"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTokenValidations,
			Help: "Total number of access token validations by outcome",
		}, []string{"outcome"}),
		sealingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSealingFailures,
			Help: "Total number of failed document sealing attempts",
		}),
		sealingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSealingDuration,
			Help:    "Histogram of document sealing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricNotifications,
			Help: "Total number of notifications dispatched by kind and outcome",
		}, []string{"kind", "outcome"}),
		auditAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditAppendFailures,
			Help: "Total number of audit events that could not be appended after a committed operation",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsActivated,
		m.requestsCompleted,
		m.requestsCancelled,
		m.signaturesRecorded,
		m.tokenValidations,
		m.sealingFailures,
		m.sealingDuration,
		m.notifications,
		m.auditAppendFailures,
	}
}

func (m *Metrics) incActivated() {
	if m != nil {
		m.requestsActivated.Inc()
	}
}

func (m *Metrics) incCompleted() {
	if m != nil {
		m.requestsCompleted.Inc()
	}
}

func (m *Metrics) incCancelled() {
	if m != nil {
		m.requestsCancelled.Inc()
	}
}

func (m *Metrics) incSignature(t SignatureType) {
	if m != nil {
		m.signaturesRecorded.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) incTokenValidation(outcome string) {
	if m != nil {
		m.tokenValidations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeSealing(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.sealingDuration.Observe(seconds)
	if failed {
		m.sealingFailures.Inc()
	}
}

func (m *Metrics) incNotification(kind, outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) incAuditFailure() {
	if m != nil {
		m.auditAppendFailures.Inc()
	}
}

func tokenOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTokenExpired):
		return OutcomeExpired
	case errors.Is(err, ErrTokenRevoked):
		return OutcomeRevoked
	case errors.Is(err, ErrSessionInvalid):
		return OutcomeSession
	default:
		return OutcomeNotFound
	}
}
