package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	UpstreamTotal    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamFailures *prometheus.CounterVec
	StaleFetches     prometheus.Counter
}

// New registers collectors under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		UpstreamTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Total number of requests sent to upstream backends",
			},
			[]string{"backend", "method", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		UpstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_transport_failures_total",
				Help:      "Upstream requests that failed before a response arrived",
			},
			[]string{"backend"},
		),
		StaleFetches: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "desk_stale_fetches_total",
				Help:      "Window data fetches discarded because a newer fetch superseded them",
			},
		),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveExchange records one upstream round trip.
func (m *Metrics) ObserveExchange(exchange transport.Exchange) {
	if exchange.Err != nil {
		m.UpstreamFailures.WithLabelValues(exchange.Backend).Inc()
		return
	}
	m.UpstreamTotal.WithLabelValues(exchange.Backend, exchange.Method, strconv.Itoa(exchange.Status)).Inc()
	m.UpstreamDuration.WithLabelValues(exchange.Backend).Observe(exchange.Duration.Seconds())
}

// Middleware records request counts and durations labelled by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(started).Seconds())
	}
}
