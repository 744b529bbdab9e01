// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every PitchPipe metric.
const Namespace = "pitchpipe"

// Outcome labels shared by the counters.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	Events         *prometheus.CounterVec
	ModelRequests  *prometheus.CounterVec
	ModelDuration  *prometheus.HistogramVec
	StoreOps       *prometheus.CounterVec
	ProjectsSaved  prometheus.Counter
	ActiveSessions prometheus.Gauge
}

// NewCollector creates a collector with its own registry so tests can build many.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of admin HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "inbound_events_total",
				Help:      "Total number of inbound transport events handled",
			},
			[]string{"kind", "outcome"},
		),
		ModelRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_requests_total",
				Help:      "Total number of model generation requests",
			},
			[]string{"provider", "outcome"},
		),
		ModelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "model_request_duration_seconds",
				Help:      "Model generation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		StoreOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "store_operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"operation", "outcome"},
		),
		ProjectsSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "projects_committed_total",
				Help:      "Total number of completed intakes",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_sessions",
				Help:      "Number of in-memory dialogue sessions",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.Events,
		c.ModelRequests,
		c.ModelDuration,
		c.StoreOps,
		c.ProjectsSaved,
		c.ActiveSessions,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one handled inbound event.
func (c *Collector) ObserveEvent(kind, outcome string) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(kind, outcome).Inc()
}

// ObserveModel counts one model request and records its latency.
func (c *Collector) ObserveModel(provider, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.ModelRequests.WithLabelValues(provider, outcome).Inc()
	c.ModelDuration.WithLabelValues(provider).Observe(seconds)
}

// ObserveStore counts one store operation.
func (c *Collector) ObserveStore(operation string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.StoreOps.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP counts one admin API request.
func (c *Collector) ObserveHTTP(method, route, status string) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
}

// ProjectCommitted counts one completed intake.
func (c *Collector) ProjectCommitted() {
	if c == nil {
		return
	}
	c.ProjectsSaved.Inc()
}

// SetActiveSessions records the current session count.
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.ActiveSessions.Set(float64(n))
}
