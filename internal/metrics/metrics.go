// Package metrics exposes Prometheus instrumentation for the verification
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for stage transitions, payments, geometry
// checks and notification delivery.
type Metrics struct {
	// Stage transitions by target stage
	StageTransitions *prometheus.CounterVec

	// Webhook deliveries by outcome
	WebhookEvents *prometheus.CounterVec

	// Geometry rejections by reason: invalid, overlap, containment
	GeometryRejections *prometheus.CounterVec

	// Notification dispatches that failed, by event type
	NotificationFailures *prometheus.CounterVec

	// Time spent processing one webhook delivery
	WebhookLatency prometheus.Histogram

	// HTTP requests by method, route template and status code
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered with reg. Passing
// prometheus.DefaultRegisterer exposes the metrics on the default /metrics
// handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verrify_stage_transitions_total",
			Help: "Verification stage transitions by target stage",
		}, []string{"stage"}),

		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verrify_payment_webhook_events_total",
			Help: "Payment webhook deliveries by outcome",
		}, []string{"outcome"}),

		GeometryRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verrify_geometry_rejections_total",
			Help: "Parcel geometry rejections by reason",
		}, []string{"reason"}),

		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verrify_notification_failures_total",
			Help: "Notification dispatches that failed by event type",
		}, []string{"type"}),

		WebhookLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "verrify_payment_webhook_duration_seconds",
			Help:    "Duration of payment webhook processing",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verrify_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verrify_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// IncStageTransition records a transition into stage.
func (m *Metrics) IncStageTransition(stage string) {
	if m != nil {
		m.StageTransitions.WithLabelValues(stage).Inc()
	}
}

// IncWebhookEvent records the outcome of one webhook delivery.
func (m *Metrics) IncWebhookEvent(outcome string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}

// IncGeometryRejection records a rejected parcel boundary.
func (m *Metrics) IncGeometryRejection(reason string) {
	if m != nil {
		m.GeometryRejections.WithLabelValues(reason).Inc()
	}
}

// IncNotificationFailure records a notification that could not be delivered.
func (m *Metrics) IncNotificationFailure(eventType string) {
	if m != nil {
		m.NotificationFailures.WithLabelValues(eventType).Inc()
	}
}

// ObserveWebhookLatency records how long a webhook delivery took.
func (m *Metrics) ObserveWebhookLatency(d time.Duration) {
	if m != nil {
		m.WebhookLatency.Observe(d.Seconds())
	}
}

// ObserveHTTPRequest records one served request. route is the matched route
// template, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// PoolStats are the connection pool counters exported as gauges.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
	Max      int32
}

// RegisterPool exports gauges that read stats on every scrape.
func RegisterPool(reg prometheus.Registerer, stats func() PoolStats) error {
	gauges := map[string]func(PoolStats) int32{
		"verrify_db_pool_acquired_connections": func(s PoolStats) int32 { return s.Acquired },
		"verrify_db_pool_idle_connections":     func(s PoolStats) int32 { return s.Idle },
		"verrify_db_pool_total_connections":    func(s PoolStats) int32 { return s.Total },
		"verrify_db_pool_max_connections":      func(s PoolStats) int32 { return s.Max },
	}
	for name, pick := range gauges {
		pick := pick
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: "Database connection pool gauge",
		}, func() float64 { return float64(pick(stats())) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
