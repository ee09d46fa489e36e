package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/caseid"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/paystack"
	"github.com/stwalsh4118/verrify/internal/repository"
	"github.com/stwalsh4118/verrify/internal/stages"
)

// Webhook outcomes, used as log fields and metric labels.
const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeUnknownReference = "unknown_reference"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeFailed           = "failed"
)

// PaymentProvider starts hosted checkouts.
type PaymentProvider interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
}

// PaymentInit is what the client needs to send the payer to checkout.
type PaymentInit struct {
	Order            *models.Order `json:"order"`
	AuthorizationURL string        `json:"authorizationUrl"`
	AccessCode       string        `json:"accessCode"`
	Reference        string        `json:"reference"`
}

// PaymentService collects verification fees and applies provider webhooks.
type PaymentService interface {
	// InitializePayment opens (or reuses) the order for an accepted request,
	// starts a checkout at the provider and records a PENDING transaction
	// under the provider's reference.
	InitializePayment(ctx context.Context, actor authz.Actor, verificationID string) (*PaymentInit, error)

	// VerifySignature checks the provider signature over the exact request
	// bytes.
	VerifySignature(signature string, rawBody []byte) error

	// HandleEvent applies a verified webhook event and returns its outcome.
	// Redelivery of an already applied event is a successful no-op.
	HandleEvent(ctx context.Context, ev *paystack.Event) (string, error)

	ListMyTransactions(ctx context.Context, actor authz.Actor, page models.Page) (models.PageResult[models.Transaction], error)
	ListTransactions(ctx context.Context, actor authz.Actor, filter models.TransactionFilter) (models.PageResult[models.Transaction], error)
}

type paymentService struct {
	store       repository.Store
	orders      OrderService
	machine     *stages.Machine
	provider    PaymentProvider
	secretKey   string
	callbackURL string
	events      eventSink
	metrics     *metrics.Metrics
	log         *logger.Logger
	now         func() time.Time
}

// PaymentConfig holds the provider settings the service needs.
type PaymentConfig struct {
	SecretKey   string
	CallbackURL string
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(
	store repository.Store,
	orders OrderService,
	machine *stages.Machine,
	provider PaymentProvider,
	cfg PaymentConfig,
	dispatcher *notify.Dispatcher,
	m *metrics.Metrics,
	log *logger.Logger,
) PaymentService {
	log = log.WithComponent("payments")
	return &paymentService{
		store:       store,
		orders:      orders,
		machine:     machine,
		provider:    provider,
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		events:      newEventSink(store, dispatcher, log),
		metrics:     m,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *paymentService) InitializePayment(ctx context.Context, actor authz.Actor, verificationID string) (*PaymentInit, error) {
	order, err := s.orders.CreateVerificationOrder(ctx, actor, verificationID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return nil, stages.ErrWrongStage.WithDetail("orderStatus", order.Status)
	}

	user, err := s.store.Users().Get(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payer: %w", err)
	}
	if user == nil || user.Email == "" {
		return nil, ErrMissingPayerEmail
	}

	// No lock is held across the provider call.
	result, err := s.provider.Initialize(ctx, paystack.InitializeRequest{
		Email:       user.Email,
		Amount:      order.Amount,
		Currency:    order.Currency,
		CallbackURL: s.callbackURL,
		Metadata:    map[string]string{"orderId": order.ID, "verificationId": verificationID},
	})
	if err != nil {
		s.log.Error("Payment initialization failed", err, map[string]interface{}{
			"order_id":        order.ID,
			"verification_id": verificationID,
		})
		return nil, err
	}

	txn := &models.Transaction{
		Amount:    order.Amount,
		Reference: result.Reference,
		Status:    models.TransactionPending,
		OrderID:   order.ID,
	}
	if err := s.store.Transactions().Create(ctx, txn); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTransactionConflict.WithDetail("reference", result.Reference)
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	s.log.Info("Payment initialized", map[string]interface{}{
		"order_id":  order.ID,
		"reference": txn.Reference,
		"amount":    order.Amount.String(),
	})
	return &PaymentInit{
		Order:            order,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		Reference:        result.Reference,
	}, nil
}

func (s *paymentService) VerifySignature(signature string, rawBody []byte) error {
	if err := paystack.VerifySignature(s.secretKey, signature, rawBody); err != nil {
		s.metrics.IncWebhookEvent(OutcomeInvalidSignature)
		s.log.Warn("Rejected webhook with invalid signature", map[string]interface{}{
			"body_bytes": len(rawBody),
		})
		return err
	}
	return nil
}

// settled is what a processed webhook hands to the post-commit step.
type settled struct {
	txn          models.Transaction
	order        models.Order
	verification *models.VerificationRequest
	advanced     bool
}

func (s *paymentService) HandleEvent(ctx context.Context, ev *paystack.Event) (string, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveWebhookLatency(time.Since(start)) }()

	if ev == nil {
		return OutcomeFailed, paystack.ErrMalformedEvent
	}
	if ev.Event != paystack.EventChargeSuccess {
		s.metrics.IncWebhookEvent(OutcomeIgnored)
		s.log.Debug("Ignoring webhook event", map[string]interface{}{
			"event": ev.Event,
		})
		return OutcomeIgnored, nil
	}
	reference := ev.Data.Reference
	if reference == "" {
		s.metrics.IncWebhookEvent(OutcomeFailed)
		return OutcomeFailed, paystack.ErrMalformedEvent.Withf("charge event has no reference")
	}

	outcome := OutcomeProcessed
	var done settled
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		// Lock the single transaction row before reading anything joined to it.
		locked, err := tx.Transactions().LockByReference(ctx, reference)
		if err != nil {
			return fmt.Errorf("failed to lock transaction: %w", err)
		}
		if locked == nil {
			outcome = OutcomeUnknownReference
			return nil
		}
		if locked.Status == models.TransactionSuccess {
			outcome = OutcomeDuplicate
			return nil
		}

		agg, err := tx.Transactions().GetAggregate(ctx, reference)
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if agg == nil {
			outcome = OutcomeUnknownReference
			return nil
		}
		if agg.Transaction.Status == models.TransactionSuccess {
			outcome = OutcomeDuplicate
			return nil
		}

		if ev.Data.Amount != 0 && ev.Data.Amount != paystack.ToSubunit(agg.Transaction.Amount) {
			s.log.Warn("Webhook amount differs from recorded amount", map[string]interface{}{
				"reference":    reference,
				"event_amount": ev.Data.Amount,
				"recorded":     paystack.ToSubunit(agg.Transaction.Amount),
			})
		}

		if err := tx.Transactions().UpdateStatus(ctx, agg.Transaction.ID, models.TransactionSuccess); err != nil {
			return fmt.Errorf("failed to mark transaction paid: %w", err)
		}
		agg.Transaction.Status = models.TransactionSuccess
		done = settled{txn: agg.Transaction, order: agg.Order}

		if agg.Order.Status == models.OrderPaid {
			return nil
		}
		if err := tx.Orders().UpdateStatus(ctx, agg.Order.ID, models.OrderPaid); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		done.order.Status = models.OrderPaid

		if agg.Verification == nil {
			return nil
		}
		v, err := loadForUpdate(ctx, tx, agg.Verification.ID)
		if err != nil {
			return err
		}
		to, err := s.machine.ConfirmPayment(v)
		if err != nil {
			// Payment is still recorded; the stage is left for an admin.
			s.log.Warn("Paid verification is not awaiting payment", map[string]interface{}{
				"verification_id": v.ID,
				"stage":           v.Stage,
			})
			return nil
		}
		if err := s.assignCaseID(ctx, tx, v); err != nil {
			return err
		}
		v.Stage = to
		if err := tx.Verifications().Update(ctx, v); err != nil {
			return fmt.Errorf("failed to update verification: %w", err)
		}
		done.verification = v
		done.advanced = true
		return nil
	})
	if err != nil {
		s.metrics.IncWebhookEvent(OutcomeFailed)
		s.log.Error("Webhook processing failed", err, map[string]interface{}{
			"reference": reference,
		})
		return OutcomeFailed, err
	}

	s.metrics.IncWebhookEvent(outcome)
	if outcome != OutcomeProcessed {
		s.log.Warn("Webhook had no effect", map[string]interface{}{
			"reference": reference,
			"outcome":   outcome,
		})
		return outcome, nil
	}

	caseID := ""
	if done.advanced {
		caseID = *done.verification.CaseID
		s.metrics.IncStageTransition(string(done.verification.Stage))
		s.events.stageChanged(ctx, done.verification, s.events.parcelName(ctx, done.verification.ParcelID), "", nil)
	}
	s.log.Info("Payment confirmed", map[string]interface{}{
		"reference": reference,
		"order_id":  done.order.ID,
		"case_id":   caseID,
	})
	s.events.paymentReceived(ctx, done.txn, done.order, caseID)
	return outcome, nil
}

// assignCaseID gives v the next case id of the current year unless it
// already has one.
func (s *paymentService) assignCaseID(ctx context.Context, tx repository.Repositories, v *models.VerificationRequest) error {
	if v.CaseID != nil && *v.CaseID != "" {
		return nil
	}
	year := s.now().Year()
	if err := tx.Verifications().LockCaseIDs(ctx, year); err != nil {
		return err
	}
	maxID, err := tx.Verifications().MaxCaseID(ctx, year)
	if err != nil {
		return err
	}
	next, err := caseid.Next(maxID, year)
	if err != nil {
		return err
	}
	v.CaseID = &next
	return nil
}

func (s *paymentService) ListMyTransactions(ctx context.Context, actor authz.Actor, page models.Page) (models.PageResult[models.Transaction], error) {
	return s.list(ctx, models.TransactionFilter{UserID: actor.UserID, Page: page})
}

func (s *paymentService) ListTransactions(ctx context.Context, actor authz.Actor, filter models.TransactionFilter) (models.PageResult[models.Transaction], error) {
	if !s.machine.Policy().IsAdmin(actor) {
		return models.PageResult[models.Transaction]{}, ErrAdminRequired
	}
	return s.list(ctx, filter)
}

func (s *paymentService) list(ctx context.Context, filter models.TransactionFilter) (models.PageResult[models.Transaction], error) {
	filter.Page = filter.Page.Normalize()
	items, total, err := s.store.Transactions().List(ctx, filter)
	if err != nil {
		s.log.Error("Failed to list transactions", err, map[string]interface{}{
			"user_id": filter.UserID,
		})
		return models.PageResult[models.Transaction]{}, fmt.Errorf("failed to list transactions: %w", err)
	}
	return models.NewPageResult(items, total, filter.Page), nil
}
