package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors this server exposes,
// mirroring dex's server/server.go request-counter/duration-histogram
// pair, plus two collectors this specification names directly: active
// key count and refresh-token security events.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeKeys      prometheus.Gauge
	refreshEvents   *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidc_http_requests_total",
			Help: "Count of all HTTP requests, by route and status code.",
		}, []string{"route", "code", "method"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oidc_http_request_duration_seconds",
			Help:    "Latency of HTTP requests, by route.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"route"}),
		activeKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oidc_active_signing_keys",
			Help: "Number of active, unexpired signing keys currently registered.",
		}),
		refreshEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidc_refresh_token_security_events_total",
			Help: "Count of refresh-token replay and cross-client-binding events, by kind.",
		}, []string{"event"}),
	}
	if registry != nil {
		registry.MustRegister(m.requestsTotal, m.requestDuration, m.activeKeys, m.refreshEvents)
	}
	return m
}

func (m *metrics) wrap(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.registry == nil {
			h(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status), r.Method).Inc()
	})
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
