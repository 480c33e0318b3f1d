package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionMetrics provides observability for protocol sessions.
//
// Implementations can collect metrics about dispatched operations, their
// result codes and latency, and search traffic. This interface is optional:
// sessions created without one use a no-op implementation.
type SessionMetrics interface {
	// RecordOperation records a completed operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "add", "search", "modifyDN")
	//   - resultCode: LDAP result code sent to the client
	//   - duration: Time taken to dispatch the operation
	RecordOperation(operation string, resultCode uint16, duration time.Duration)

	// RecordSearchEntries records the number of entries returned by a search.
	RecordSearchEntries(count int)

	// RecordSearchAbandoned increments the abandoned search counter.
	RecordSearchAbandoned()

	// RecordReferral increments the referral counter.
	RecordReferral(operation string)
}

// sessionMetrics is the Prometheus implementation of SessionMetrics.
type sessionMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	searchEntries     prometheus.Histogram
	searchAbandoned   prometheus.Counter
	referralsTotal    *prometheus.CounterVec
}

// NewSessionMetrics creates a new Prometheus-backed SessionMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewSessionMetrics() SessionMetrics {
	if !IsEnabled() {
		return NewNoopSessionMetrics()
	}
	return newSessionMetrics(GetRegistry())
}

func newSessionMetrics(reg prometheus.Registerer) *sessionMetrics {
	return &sessionMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoldap_session_operations_total",
				Help: "Total number of LDAP operations by operation and result code",
			},
			[]string{"operation", "result_code"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoldap_session_operation_duration_seconds",
				Help: "Duration of LDAP operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"operation"},
		),
		searchEntries: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittoldap_session_search_entries",
				Help:    "Distribution of the number of entries returned per search",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		searchAbandoned: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoldap_session_searches_abandoned_total",
				Help: "Total number of searches abandoned before completion",
			},
		),
		referralsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoldap_session_referrals_total",
				Help: "Total number of referrals returned by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *sessionMetrics) RecordOperation(operation string, resultCode uint16, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, strconv.Itoa(int(resultCode))).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *sessionMetrics) RecordSearchEntries(count int) {
	m.searchEntries.Observe(float64(count))
}

func (m *sessionMetrics) RecordSearchAbandoned() {
	m.searchAbandoned.Inc()
}

func (m *sessionMetrics) RecordReferral(operation string) {
	m.referralsTotal.WithLabelValues(operation).Inc()
}

// noopSessionMetrics is a no-op implementation of SessionMetrics with zero overhead.
type noopSessionMetrics struct{}

// NewNoopSessionMetrics returns a SessionMetrics that discards everything.
func NewNoopSessionMetrics() SessionMetrics { return noopSessionMetrics{} }

func (noopSessionMetrics) RecordOperation(operation string, resultCode uint16, duration time.Duration) {
}
func (noopSessionMetrics) RecordSearchEntries(count int)    {}
func (noopSessionMetrics) RecordSearchAbandoned()           {}
func (noopSessionMetrics) RecordReferral(operation string) {}
