// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge

	creditsDebited  prometheus.Counter
	creditsRefunded *prometheus.CounterVec
	creditsGranted  prometheus.Counter
	generations     *prometheus.CounterVec
}

// New creates and registers the gateway collectors.
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, path and status.",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: constLabels,
			Buckets:     []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "In-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
		creditsDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "credits_debited_total",
			Help:        "Credits debited for generation attempts.",
			ConstLabels: constLabels,
		}),
		creditsRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "credits_refunded_total",
			Help:        "Credits refunded, by failure reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		creditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "credits_granted_total",
			Help:        "Credits granted through payment webhooks.",
			ConstLabels: constLabels,
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "generation_attempts_total",
			Help:        "Generation attempts by terminal outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.inFlight,
		m.creditsDebited,
		m.creditsRefunded,
		m.creditsGranted,
		m.generations,
	)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight bumps the in-flight gauge.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight lowers the in-flight gauge.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordDebit counts one successful debit.
func (m *Metrics) RecordDebit() { m.creditsDebited.Inc() }

// RecordRefund counts one refund with its failure reason.
func (m *Metrics) RecordRefund(reason string) { m.creditsRefunded.WithLabelValues(reason).Inc() }

// RecordGrant counts credits granted by a webhook.
func (m *Metrics) RecordGrant(amount int64) { m.creditsGranted.Add(float64(amount)) }

// RecordGeneration counts a generation attempt's terminal outcome.
func (m *Metrics) RecordGeneration(outcome string) { m.generations.WithLabelValues(outcome).Inc() }
