// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for courier.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the courier metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	EventsTriggeredTotal    prometheus.Counter
	DeliveriesEnqueuedTotal prometheus.Counter
	AttemptsTotal           *prometheus.CounterVec
	AttemptLatency          prometheus.Histogram
	DeliveriesTotal         *prometheus.CounterVec
	RateLimitedTotal        prometheus.Counter
	ScheduledRetries        prometheus.Gauge
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTriggeredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_events_triggered_total",
			Help: "Events passed to Trigger.",
		}),
		DeliveriesEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_deliveries_enqueued_total",
			Help: "Deliveries created by fan-out.",
		}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_delivery_attempts_total",
			Help: "HTTP delivery attempts by result.",
		}, []string{"result"}),
		AttemptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_delivery_attempt_duration_seconds",
			Help:    "Latency of HTTP delivery attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_deliveries_total",
			Help: "Deliveries that reached a final status.",
		}, []string{"status"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_rate_limited_total",
			Help: "Attempts postponed by per-webhook rate limits.",
		}),
		ScheduledRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_scheduled_retries",
			Help: "Deliveries waiting for their retry delay.",
		}),
	}

	reg.MustRegister(
		m.EventsTriggeredTotal,
		m.DeliveriesEnqueuedTotal,
		m.AttemptsTotal,
		m.AttemptLatency,
		m.DeliveriesTotal,
		m.RateLimitedTotal,
		m.ScheduledRetries,
	)
	return m
}

// RecordTrigger records one Trigger call fanning out to n deliveries.
func (m *Metrics) RecordTrigger(n int) {
	if m == nil {
		return
	}
	m.EventsTriggeredTotal.Inc()
	m.DeliveriesEnqueuedTotal.Add(float64(n))
}

// RecordAttempt records an HTTP attempt with result "success", "retry" or
// "failed".
func (m *Metrics) RecordAttempt(result string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
	m.AttemptLatency.Observe(latencySeconds)
}

// RecordFinal records a delivery reaching status.
func (m *Metrics) RecordFinal(status string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRateLimited records one postponed attempt.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// SetScheduled sets the number of deliveries waiting to be retried.
func (m *Metrics) SetScheduled(n int) {
	if m == nil {
		return
	}
	m.ScheduledRetries.Set(float64(n))
}
