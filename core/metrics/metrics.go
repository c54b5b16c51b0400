// Package metrics provides the prometheus collectors of a backend
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	mutations     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	r := prometheus.NewRegistry()
	return MustNewMetrics(r, r)
}

// MustNewMetrics creates the collectors and registers them with reg. It panics if
// registration fails. gatherer is used to serve the metrics and may be nil when
// Handler is not needed.
func MustNewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "basebone",
				Name:      "requests_total",
				Help:      "Number of handled requests by entity, operation and error code.",
			},
			[]string{"entity", "operation", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "basebone",
				Name:      "request_duration_seconds",
				Help:      "Duration of handled requests by entity and operation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"entity", "operation"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "basebone",
				Name:      "mutations_total",
				Help:      "Number of committed writes by entity and operation.",
			},
			[]string{"entity", "operation"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "basebone",
				Name:      "notification_failures_total",
				Help:      "Number of failed notifications by stage.",
			},
			[]string{"stage"},
		),
		gatherer: gatherer,
	}
	reg.MustRegister(m.requests, m.duration, m.mutations, m.notifications)
	return m
}

// ObserveRequest records a handled request
func (m *Metrics) ObserveRequest(entity, operation, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(entity, operation, code).Inc()
	m.duration.WithLabelValues(entity, operation).Observe(d.Seconds())
}

// IncMutation records a committed write
func (m *Metrics) IncMutation(entity, operation string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(entity, operation).Inc()
}

// IncNotificationFailure records a failed notification. stage is "handler" or "sink".
func (m *Metrics) IncNotificationFailure(stage string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(stage).Inc()
}

// Handler serves the metrics in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
