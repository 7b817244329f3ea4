// Package metrics exposes gateway metrics through a Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "delegate"

var durationBuckets = []float64{
	.001, .005, .01, .025,
	.05, .1, .25, .5,
	1, 2.5, 5, 10,
}

// Collector records gateway and upstream metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	fallbacksTotal   *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	routes           prometheus.Gauge
	reloadsTotal     *prometheus.CounterVec
}

// NewCollector creates a collector registered on a fresh registry. Go
// runtime and process collectors are included.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewCollectorWithRegistry(reg)
}

// NewCollectorWithRegistry registers the gateway metrics on reg.
func NewCollectorWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of delegated requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of delegated requests in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"route"},
		),
		upstreamTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total number of upstream calls by route, upstream and status",
			},
			[]string{"route", "upstream", "status"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of upstream calls in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"route", "upstream"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of failed upstream calls answered by a fallback",
			},
			[]string{"route", "upstream", "reason"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"route", "upstream"},
		),
		routes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "routes",
				Help:      "Number of routes in the active table",
			},
		),
		reloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads by result",
			},
			[]string{"result"},
		),
	}
}

// RecordRequest records one inbound request answered by a route.
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordUpstream records one completed upstream call.
func (c *Collector) RecordUpstream(route, upstream string, statusCode int, duration time.Duration) {
	c.upstreamTotal.WithLabelValues(route, upstream, strconv.Itoa(statusCode)).Inc()
	c.upstreamDuration.WithLabelValues(route, upstream).Observe(duration.Seconds())
}

// RecordFallback records a failed upstream call.
func (c *Collector) RecordFallback(route, upstream, reason string) {
	c.fallbacksTotal.WithLabelValues(route, upstream, reason).Inc()
}

// SetCircuitBreakerState records a breaker state transition.
func (c *Collector) SetCircuitBreakerState(route, upstream string, state int) {
	c.breakerState.WithLabelValues(route, upstream).Set(float64(state))
}

// SetRoutes records the size of the active route table.
func (c *Collector) SetRoutes(n int) {
	c.routes.Set(float64(n))
}

// RecordReload records a configuration reload attempt.
func (c *Collector) RecordReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.reloadsTotal.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
