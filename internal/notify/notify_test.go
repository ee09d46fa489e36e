package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  time.Duration
}

func (r *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	if r.block > 0 {
		select {
		case <-time.After(r.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestDispatcher_Delivers(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, logger.Nop(), nil, time.Second)

	d.Dispatch(Event{Type: PaymentReceipt, Reference: "ref_1"})
	d.Dispatch(Event{Type: VerificationPipelineUpdate, Stage: "STAGE_1"})
	d.Wait()

	require.Len(t, rec.events, 2)
	for _, ev := range rec.events {
		assert.False(t, ev.OccurredAt.IsZero())
	}
}

func TestDispatcher_FailureIsLoggedAndCounted(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())
	rec := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(rec, logger.NewWithWriter("production", &buf), m, time.Second)

	d.Dispatch(Event{Type: PaymentReceipt, Recipient: Recipient{UserID: "u1"}})
	d.Wait()

	assert.Contains(t, buf.String(), "Failed to send notification")
	assert.Contains(t, buf.String(), "smtp down")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues(string(PaymentReceipt))))
}

func TestDispatcher_Timeout(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingNotifier{block: time.Second}
	d := NewDispatcher(rec, logger.NewWithWriter("production", &buf), nil, 10*time.Millisecond)

	d.Dispatch(Event{Type: VerificationPipelineUpdate})
	d.Wait()

	assert.Contains(t, buf.String(), "deadline exceeded")
}

func TestDispatcher_NilIsNoop(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() {
		d.Dispatch(Event{Type: PaymentReceipt})
		d.Wait()
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logger.NewWithWriter("production", &buf))

	require.NoError(t, n.Notify(context.Background(), Event{Type: PaymentReceipt, Reference: "ref_9"}))
	assert.Contains(t, buf.String(), "ref_9")
}
