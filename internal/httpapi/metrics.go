package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// metrics uses a registry per server so that tests can build many servers
// in one process.
type metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	operations  *prometheus.CounterVec
	feedClients prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexusvault_http_requests_total",
				Help: "HTTP requests by method, route template and status code.",
			},
			[]string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexusvault_http_request_duration_seconds",
				Help:    "HTTP request latency by route template.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexusvault_operations_total",
				Help: "Store operations by name and outcome.",
			},
			[]string{"op", "outcome"},
		),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexusvault_feed_clients",
			Help: "Connected change feed subscribers.",
		}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.operations, m.feedClients)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *metrics) observeOperation(op string, err error) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, catalog.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrCorruptData):
		return "corrupt"
	default:
		return "error"
	}
}
