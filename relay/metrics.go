package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes for the relay_requests_total counter.
const (
	outcomeCompleted        = "completed"
	outcomeAuthRejected     = "auth_rejected"
	outcomeBadRequest       = "bad_request"
	outcomeUpstreamError    = "upstream_error"
	outcomeClientDisconnect = "client_disconnect"
	outcomeInternalError    = "internal_error"
)

// metrics holds the relay's own Prometheus collectors. These describe the
// relay process; per-stream latency telemetry for clients travels in-band
// as MetricsAnnotation frames and is not duplicated here.
type metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	activeStreams prometheus.Gauge
	ttftSeconds   prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Chat stream requests by outcome.",
		}, []string{"outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_streams",
			Help: "Streams currently being relayed.",
		}),
		ttftSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_ttft_seconds",
			Help:    "Time to first token observed across completed streams.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	m.registry.MustRegister(m.requests, m.activeStreams, m.ttftSeconds)
	return m
}

// handler exposes the registry for the /metrics route.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
