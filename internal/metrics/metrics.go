package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for hookline.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts API requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveries counts delivery attempt outcomes by event type and result.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and result."},
		[]string{"event_type", "result"},
	)

	// WebhookLatency tracks webhook delivery latencies in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "result"},
	)

	// EndpointsDisabled counts endpoints permanently deactivated after
	// exhausting their retries.
	EndpointsDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_endpoints_disabled_total", Help: "Endpoints deactivated after exhausting retries."},
	)

	// RateLimitDecisions counts limiter outcomes by backend.
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ratelimit_decisions_total", Help: "Rate limiter decisions by backend and outcome."},
		[]string{"backend", "outcome"},
	)
)

var regOnce sync.Once

// Register installs all collectors on the registry. Safe to call more than once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(EndpointsDisabled)
		Registry.MustRegister(RateLimitDecisions)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
