// Package notify delivers pipeline events to the outbound email collaborator.
// Delivery is fire-and-forget: a failed notification is logged and counted
// but never fails the state change that produced it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
)

// EventType names what happened.
type EventType string

const (
	VerificationPipelineUpdate EventType = "VERIFICATION_PIPELINE_UPDATE"
	PaymentReceipt             EventType = "PAYMENT_RECEIPT"
)

// DefaultTimeout bounds a single asynchronous delivery.
const DefaultTimeout = 10 * time.Second

// Recipient is who the email goes to.
type Recipient struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Event is one notification. Fields that do not apply to the event type are
// left empty.
type Event struct {
	Type           EventType `json:"type"`
	Recipient      Recipient `json:"recipient"`
	VerificationID string    `json:"verificationId,omitempty"`
	CaseID         string    `json:"caseId,omitempty"`
	ParcelName     string    `json:"propertyName,omitempty"`
	Stage          string    `json:"stage,omitempty"`
	Comments       string    `json:"comments,omitempty"`
	Attachments    []string  `json:"attachments,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Notifier sends one event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// RedisNotifier appends events to a Redis stream consumed by the mailer.
type RedisNotifier struct {
	client *redis.Client
	stream string
}

// NewRedisNotifier creates a notifier writing to stream.
func NewRedisNotifier(client *redis.Client, stream string) *RedisNotifier {
	return &RedisNotifier{client: client, stream: stream}
}

// Notify adds the event to the stream as a JSON payload.
func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"type":    string(ev.Type),
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", n.stream, err)
	}
	return nil
}

// LogNotifier only logs events. It is used when no stream is configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a notifier that writes events to log.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.Info("Notification", map[string]interface{}{
		"type":            ev.Type,
		"recipient":       ev.Recipient.UserID,
		"verification_id": ev.VerificationID,
		"stage":           ev.Stage,
		"reference":       ev.Reference,
	})
	return nil
}

// Dispatcher sends events in the background.
type Dispatcher struct {
	notifier Notifier
	log      *logger.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher wraps notifier. A zero timeout uses DefaultTimeout.
func NewDispatcher(notifier Notifier, log *logger.Logger, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		notifier: notifier,
		log:      log.WithComponent("notify"),
		metrics:  m,
		timeout:  timeout,
	}
}

// Dispatch sends ev without blocking the caller. It must be called after the
// owning transaction has committed.
func (d *Dispatcher) Dispatch(ev Event) {
	if d == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("Notifier panicked", fmt.Errorf("%v", r), map[string]interface{}{"type": ev.Type})
				d.metrics.IncNotificationFailure(string(ev.Type))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, ev); err != nil {
			d.log.Warn("Failed to send notification", map[string]interface{}{
				"type":            ev.Type,
				"recipient":       ev.Recipient.UserID,
				"verification_id": ev.VerificationID,
				"error":           err.Error(),
			})
			d.metrics.IncNotificationFailure(string(ev.Type))
		}
	}()
}

// Wait blocks until every dispatched event has been handled.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
