package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/repository"
	"github.com/stwalsh4118/verrify/internal/stages"
)

// Fee is the flat verification price.
type Fee struct {
	Amount   decimal.Decimal
	Currency string
}

// OrderService opens and lists verification orders.
type OrderService interface {
	// CreateVerificationOrder opens the payable order for an accepted
	// request and moves it to PENDING_PAYMENT in the same unit of work. A
	// request that already has a pending order gets that order back.
	CreateVerificationOrder(ctx context.Context, actor authz.Actor, verificationID string) (*models.Order, error)

	ListMyOrders(ctx context.Context, actor authz.Actor, page models.Page) (models.PageResult[models.Order], error)
	ListOrders(ctx context.Context, actor authz.Actor, filter models.OrderFilter) (models.PageResult[models.Order], error)
}

type orderService struct {
	store   repository.Store
	machine *stages.Machine
	fee     Fee
	events  eventSink
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewOrderService creates an OrderService charging fee per verification.
func NewOrderService(store repository.Store, machine *stages.Machine, fee Fee, dispatcher *notify.Dispatcher, m *metrics.Metrics, log *logger.Logger) OrderService {
	log = log.WithComponent("orders")
	return &orderService{
		store:   store,
		machine: machine,
		fee:     fee,
		events:  newEventSink(store, dispatcher, log),
		metrics: m,
		log:     log,
	}
}

func (s *orderService) CreateVerificationOrder(ctx context.Context, actor authz.Actor, verificationID string) (*models.Order, error) {
	var (
		order   *models.Order
		v       *models.VerificationRequest
		created bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		v, err = loadForUpdate(ctx, tx, verificationID)
		if err != nil {
			return err
		}
		if v.UserID != actor.UserID {
			return stages.ErrNotOwner.WithDetail("verificationId", verificationID)
		}

		existing, err := tx.Orders().FindPendingByVerification(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("failed to look up pending order: %w", err)
		}
		if existing != nil && v.Stage == models.StagePendingPayment {
			order = existing
			return nil
		}

		to, err := s.machine.StartPayment(v, actor)
		if err != nil {
			return err
		}

		order = &models.Order{
			Amount:         s.fee.Amount,
			Currency:       s.fee.Currency,
			Status:         models.OrderPending,
			UserID:         actor.UserID,
			VerificationID: v.ID,
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return stages.ErrStageChanged.WithDetail("verificationId", v.ID)
			}
			return fmt.Errorf("failed to create order: %w", err)
		}

		v.Stage = to
		if err := tx.Verifications().Update(ctx, v); err != nil {
			return fmt.Errorf("failed to update verification: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		s.log.Warn("Order creation rejected", map[string]interface{}{
			"verification_id": verificationID,
			"user_id":         actor.UserID,
			"error":           err.Error(),
		})
		return nil, err
	}

	if !created {
		s.log.Debug("Returning existing pending order", map[string]interface{}{
			"order_id":        order.ID,
			"verification_id": verificationID,
		})
		return order, nil
	}

	s.metrics.IncStageTransition(string(v.Stage))
	s.log.Info("Order created", map[string]interface{}{
		"order_id":        order.ID,
		"verification_id": v.ID,
		"amount":          order.Amount.String(),
		"currency":        order.Currency,
	})
	s.events.stageChanged(ctx, v, s.events.parcelName(ctx, v.ParcelID), "", nil)
	return order, nil
}

func (s *orderService) ListMyOrders(ctx context.Context, actor authz.Actor, page models.Page) (models.PageResult[models.Order], error) {
	return s.list(ctx, models.OrderFilter{UserID: actor.UserID, Page: page})
}

func (s *orderService) ListOrders(ctx context.Context, actor authz.Actor, filter models.OrderFilter) (models.PageResult[models.Order], error) {
	if !s.machine.Policy().IsAdmin(actor) {
		return models.PageResult[models.Order]{}, ErrAdminRequired
	}
	return s.list(ctx, filter)
}

func (s *orderService) list(ctx context.Context, filter models.OrderFilter) (models.PageResult[models.Order], error) {
	filter.Page = filter.Page.Normalize()
	items, total, err := s.store.Orders().List(ctx, filter)
	if err != nil {
		s.log.Error("Failed to list orders", err, map[string]interface{}{
			"user_id": filter.UserID,
			"status":  filter.Status,
		})
		return models.PageResult[models.Order]{}, fmt.Errorf("failed to list orders: %w", err)
	}
	return models.NewPageResult(items, total, filter.Page), nil
}
