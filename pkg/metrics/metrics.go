package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-service/internal/checkout"
)

type ServerMetrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	CheckoutEvents *prometheus.CounterVec
	Upstream       *prometheus.CounterVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "checkout_events_total",
		Help:      "Order lifecycle events emitted by checkouts.",
	}, []string{"type"})
	upstream := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "upstream_responses_total",
		Help:      "Answers relayed from upstream APIs.",
	}, []string{"upstream", "status"})

	reg.MustRegister(requests, latency, events, upstream)
	return &ServerMetrics{Requests: requests, LatencyMS: latency, CheckoutEvents: events, Upstream: upstream}
}

func (m *ServerMetrics) ObserveRequest(handler string, status int, took time.Duration) {
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(took.Microseconds()) / 1000)
}

func (m *ServerMetrics) ObserveUpstream(name string, status int) {
	m.Upstream.WithLabelValues(name, strconv.Itoa(status)).Inc()
}

// Observe counts checkout lifecycle events.
func (m *ServerMetrics) Observe(_ context.Context, ev checkout.Event) {
	m.CheckoutEvents.WithLabelValues(string(ev.Type)).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
