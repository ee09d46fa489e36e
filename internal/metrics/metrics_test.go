package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncStageTransition("PAYMENT_VERIFIED")
	m.IncStageTransition("PAYMENT_VERIFIED")
	m.IncWebhookEvent("duplicate")
	m.IncGeometryRejection("overlap")
	m.IncNotificationFailure("PAYMENT_RECEIPT")
	m.ObserveWebhookLatency(20 * time.Millisecond)
	m.ObserveHTTPRequest("POST", "/api/v1/payments/webhook", 200, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("PAYMENT_VERIFIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeometryRejections.WithLabelValues("overlap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues("PAYMENT_RECEIPT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/v1/payments/webhook", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncStageTransition("STAGE_1")
		m.IncWebhookEvent("processed")
		m.IncGeometryRejection("invalid")
		m.IncNotificationFailure("X")
		m.ObserveWebhookLatency(time.Second)
		m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}

func TestRegisterPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := PoolStats{Acquired: 3, Idle: 2, Total: 5, Max: 10}
	require.NoError(t, RegisterPool(reg, func() PoolStats { return stats }))

	count, err := testutil.GatherAndCount(reg,
		"verrify_db_pool_acquired_connections",
		"verrify_db_pool_max_connections",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats.Acquired = 7
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "verrify_db_pool_acquired_connections" {
			assert.Equal(t, 7.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}

	assert.Error(t, RegisterPool(reg, func() PoolStats { return stats }), "duplicate registration")
}
