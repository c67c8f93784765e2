package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the devconsole Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ssoSteps          *prometheus.CounterVec
	inspectorDuration *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	persistFailures   *prometheus.CounterVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ssoSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devconsole",
			Subsystem: "sso",
			Name:      "exchange_steps_total",
			Help:      "Identity provider exchange steps by provider, step and outcome.",
		}, []string{"provider", "step", "outcome"}),
		inspectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devconsole",
			Subsystem: "devpanel",
			Name:      "inspector_duration_seconds",
			Help:      "Time spent producing an inspector view.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"inspector", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devconsole",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devconsole",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devconsole",
			Subsystem: "devpanel",
			Name:      "persist_failures_total",
			Help:      "Swallowed local storage failures by key and operation.",
		}, []string{"key", "op"}),
	}

	for _, c := range []prometheus.Collector{
		m.ssoSteps,
		m.inspectorDuration,
		m.httpRequests,
		m.httpDuration,
		m.persistFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSSOStep counts one identity provider exchange step.
func (m *Metrics) RecordSSOStep(provider, step, outcome string) {
	if m == nil {
		return
	}
	m.ssoSteps.WithLabelValues(provider, step, outcome).Inc()
}

// RecordInspector observes how long an inspector took.
func (m *Metrics) RecordInspector(key string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.inspectorDuration.WithLabelValues(key, outcome).Observe(elapsed.Seconds())
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordPersistFailure counts a swallowed panel storage failure.
func (m *Metrics) RecordPersistFailure(key, op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(key, op).Inc()
}
