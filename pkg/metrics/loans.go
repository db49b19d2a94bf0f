package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoanMetrics records loan lifecycle transitions.
type LoanMetrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	retries     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewLoanMetrics registers the loan metrics on the provided registerer.
func NewLoanMetrics(reg prometheus.Registerer) *LoanMetrics {
	if reg == nil {
		return &LoanMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_transitions_total",
		Help: "Loan state transitions that committed.",
	}, []string{"operation"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_rejections_total",
		Help: "Loan operations refused by a lifecycle rule.",
	}, []string{"operation", "reason"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_transaction_retries_total",
		Help: "Loan transactions re-run after a serialization failure.",
	}, []string{"operation"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loan_operation_duration_seconds",
		Help:    "Duration of loan lifecycle operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(transitions, rejections, retries, duration)
	return &LoanMetrics{
		transitions: transitions,
		rejections:  rejections,
		retries:     retries,
		duration:    duration,
	}
}

// IncTransition counts a committed transition such as create or return.
func (m *LoanMetrics) IncTransition(operation string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncRejection counts an operation refused for reason.
func (m *LoanMetrics) IncRejection(operation, reason string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(operation), normalizeLabel(reason)).Inc()
}

// IncRetry counts one extra attempt of a loan transaction.
func (m *LoanMetrics) IncRetry(operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveDuration records how long an operation took, successful or not.
func (m *LoanMetrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
