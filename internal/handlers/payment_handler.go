package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/middleware"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/paystack"
	"github.com/stwalsh4118/verrify/internal/services"
)

// maxWebhookBody caps the webhook payload read into memory.
const maxWebhookBody = 1 << 20

// PaymentHandler serves checkout, payment history and the provider webhook.
type PaymentHandler struct {
	payments services.PaymentService
	orders   services.OrderService
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(payments services.PaymentService, orders services.OrderService) *PaymentHandler {
	return &PaymentHandler{payments: payments, orders: orders}
}

// InitializeResponse is what the frontend needs to open the hosted checkout.
type InitializeResponse struct {
	Order            *models.Order `json:"order"`
	AuthorizationURL string        `json:"authorizationUrl"`
	AccessCode       string        `json:"accessCode"`
	Reference        string        `json:"reference"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status string `json:"status"`
}

// AdminOrderQuery filters the admin order listing.
type AdminOrderQuery struct {
	PageQuery
	Status string `form:"status" binding:"omitempty,oneof=PENDING PAID CANCELLED"`
	UserID string `form:"userId"`
}

// AdminTransactionQuery filters the admin transaction listing.
type AdminTransactionQuery struct {
	PageQuery
	Status  string `form:"status" binding:"omitempty,oneof=PENDING SUCCESS FAILED"`
	OrderID string `form:"orderId"`
	UserID  string `form:"userId"`
	Search  string `form:"search" binding:"max=100"`
}

// Initialize handles POST /api/v1/payments/verifications/:id/initialize.
func (h *PaymentHandler) Initialize(c *gin.Context) {
	result, err := h.payments.InitializePayment(c.Request.Context(), middleware.GetActor(c), c.Param("id"))
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, InitializeResponse{
		Order:            result.Order,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		Reference:        result.Reference,
	})
}

// Webhook handles POST /api/v1/payments/webhook. The signature is checked
// against the raw body before it is parsed. Deliveries that change nothing
// are still acknowledged with 200 so the provider stops retrying; only
// processing failures return 5xx.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.BadRequest(c, "Webhook body is too large", nil)
			return
		}
		apierrors.BadRequest(c, "Could not read webhook body", nil)
		return
	}

	signature := c.GetHeader(paystack.SignatureHeader)
	if signature == "" {
		apierrors.Unauthorized(c, "Missing signature")
		return
	}
	if err := h.payments.VerifySignature(signature, body); err != nil {
		apierrors.Unauthorized(c, "Invalid signature")
		return
	}

	event, err := paystack.ParseEvent(body)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}

	outcome, err := h.payments.HandleEvent(c.Request.Context(), event)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, WebhookResponse{Status: outcome})
}

// ListMyOrders handles GET /api/v1/payments/orders.
func (h *PaymentHandler) ListMyOrders(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindError(c, err)
		return
	}
	result, err := h.orders.ListMyOrders(c.Request.Context(), middleware.GetActor(c), q.page())
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListMyTransactions handles GET /api/v1/payments/transactions.
func (h *PaymentHandler) ListMyTransactions(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindError(c, err)
		return
	}
	result, err := h.payments.ListMyTransactions(c.Request.Context(), middleware.GetActor(c), q.page())
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListOrders handles GET /api/v1/admin/payments/orders.
func (h *PaymentHandler) ListOrders(c *gin.Context) {
	var q AdminOrderQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindError(c, err)
		return
	}
	result, err := h.orders.ListOrders(c.Request.Context(), middleware.GetActor(c), models.OrderFilter{
		Status: models.OrderStatus(q.Status),
		UserID: q.UserID,
		Page:   q.page(),
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListTransactions handles GET /api/v1/admin/payments/transactions.
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	var q AdminTransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindError(c, err)
		return
	}
	result, err := h.payments.ListTransactions(c.Request.Context(), middleware.GetActor(c), models.TransactionFilter{
		Status:  models.TransactionStatus(q.Status),
		OrderID: q.OrderID,
		UserID:  q.UserID,
		Search:  q.Search,
		Page:    q.page(),
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
