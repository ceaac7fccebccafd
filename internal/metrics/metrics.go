// Package metrics exposes Prometheus metrics for HTTP traffic and token
// verification.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wheelcheck"

// Metrics holds the collectors on a private registry, so several instances
// (one per test) can coexist.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	JWKSFetchTotal      *prometheus.CounterVec
	JWKSFetchDuration   prometheus.Histogram
	VerificationsTotal  *prometheus.CounterVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request latency",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		JWKSFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jwks_fetch_total",
				Help:      "Key set downloads by result",
			},
			[]string{"result"},
		),
		JWKSFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "jwks_fetch_duration_seconds",
				Help:      "Histogram of key set download latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_verifications_total",
				Help:      "Bearer token verifications by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.JWKSFetchTotal,
		m.JWKSFetchDuration,
		m.VerificationsTotal,
	)
	return m
}

// ObserveFetch implements tokenverify.Observer.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JWKSFetchTotal.WithLabelValues(result).Inc()
	m.JWKSFetchDuration.Observe(d.Seconds())
}

// ObserveVerification implements tokenverify.Observer.
func (m *Metrics) ObserveVerification(reason tokenverify.Reason) {
	result := "ok"
	if reason != "" {
		result = string(reason)
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ tokenverify.Observer = (*Metrics)(nil)
