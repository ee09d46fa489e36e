package handlers

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/verrify/internal/authz"
	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/paystack"
	"github.com/stwalsh4118/verrify/internal/services"
)

// accepted drives a new verification to VERIFICATION_ACCEPTED over HTTP.
func (s *testServer) accepted(t *testing.T, poly models.Polygon) *models.VerificationRequest {
	t.Helper()
	v := s.initiateHTTP(t, poly)
	s.step(t, "/api/v1/verifications/"+v.ID+"/submit", s.ownerToken(t), nil)
	s.step(t, "/api/v1/admin/verifications/"+v.ID+"/assign", s.adminToken(t), nil)
	return s.step(t, "/api/v1/admin/verifications/"+v.ID+"/verdict", s.adminToken(t), VerdictRequest{Verdict: "ACCEPTED"})
}

func TestPaymentHandler_Webhook(t *testing.T) {
	s := newTestServer(t)
	v := s.accepted(t, square(0, 0, 5))
	w := s.do(t, http.MethodPost, "/api/v1/payments/verifications/"+v.ID+"/initialize", s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reference := decode[InitializeResponse](t, w).Reference

	valid := chargeBody(t, paystack.EventChargeSuccess, reference)

	tests := []struct {
		name           string
		body           []byte
		signature      string
		expectedStatus int
		expectedCode   string
		outcome        string
	}{
		{
			name:           "missing signature",
			body:           valid,
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   apierrors.ErrUnauthorized,
		},
		{
			name:           "signature from another key",
			body:           valid,
			signature:      paystack.Sign("sk_test_other", valid),
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   apierrors.ErrUnauthorized,
		},
		{
			name:           "signature over a different body",
			body:           valid,
			signature:      paystack.Sign(testPaystackKey, append([]byte(" "), valid...)),
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   apierrors.ErrUnauthorized,
		},
		{
			name:           "signed garbage",
			body:           []byte("not json"),
			signature:      paystack.Sign(testPaystackKey, []byte("not json")),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "MALFORMED_EVENT",
		},
		{
			name:           "unrelated event",
			body:           chargeBody(t, "transfer.success", reference),
			expectedStatus: http.StatusOK,
			outcome:        services.OutcomeIgnored,
		},
		{
			name:           "unknown reference",
			body:           chargeBody(t, paystack.EventChargeSuccess, "ref_unknown"),
			expectedStatus: http.StatusOK,
			outcome:        services.OutcomeUnknownReference,
		},
		{
			name:           "charge success",
			body:           valid,
			expectedStatus: http.StatusOK,
			outcome:        services.OutcomeProcessed,
		},
		{
			name:           "redelivery",
			body:           valid,
			expectedStatus: http.StatusOK,
			outcome:        services.OutcomeDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signature := tt.signature
			if signature == "" && tt.expectedCode == "" {
				signature = paystack.Sign(testPaystackKey, tt.body)
			}
			w := s.webhook(t, tt.body, signature)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
				return
			}
			assert.Equal(t, tt.outcome, decode[WebhookResponse](t, w).Status)
		})
	}

	w = s.do(t, http.MethodGet, "/api/v1/verifications/"+v.ID, s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StagePaymentVerified, decode[VerificationResponse](t, w).Verification.Stage)
}

func TestPaymentHandler_WebhookBodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	body := bytes.Repeat([]byte("a"), maxWebhookBody+1)

	w := s.webhook(t, body, paystack.Sign(testPaystackKey, body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrBadRequest, errorCode(t, w))
}

func TestPaymentHandler_Initialize(t *testing.T) {
	s := newTestServer(t)
	v := s.accepted(t, square(0, 0, 5))
	path := "/api/v1/payments/verifications/" + v.ID + "/initialize"

	w := s.do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, path, s.token(t, strangerID, authz.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, "NOT_OWNER", errorCode(t, w))

	w = s.do(t, http.MethodPost, path, s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[InitializeResponse](t, w)
	assert.Equal(t, "50000", first.Order.Amount.String())
	assert.Equal(t, "NGN", first.Order.Currency)

	w = s.do(t, http.MethodPost, path, s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[InitializeResponse](t, w)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.NotEqual(t, first.Reference, second.Reference)

	w = s.do(t, http.MethodPost, "/api/v1/payments/verifications/missing/initialize", s.ownerToken(t), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentHandler_Lists(t *testing.T) {
	s := newTestServer(t)
	v := s.accepted(t, square(0, 0, 5))
	w := s.do(t, http.MethodPost, "/api/v1/payments/verifications/"+v.ID+"/initialize", s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := chargeBody(t, paystack.EventChargeSuccess, decode[InitializeResponse](t, w).Reference)
	require.Equal(t, http.StatusOK, s.webhook(t, body, paystack.Sign(testPaystackKey, body)).Code)

	w = s.do(t, http.MethodGet, "/api/v1/payments/orders", s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	orders := decode[models.PageResult[models.Order]](t, w)
	require.Equal(t, 1, orders.Total)
	assert.Equal(t, models.OrderPaid, orders.Items[0].Status)

	w = s.do(t, http.MethodGet, "/api/v1/payments/transactions", s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	txns := decode[models.PageResult[models.Transaction]](t, w)
	require.Equal(t, 1, txns.Total)
	assert.Equal(t, models.TransactionSuccess, txns.Items[0].Status)

	w = s.do(t, http.MethodGet, "/api/v1/payments/orders", s.token(t, strangerID, authz.RoleUser), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[models.PageResult[models.Order]](t, w).Total)

	tests := []struct {
		name           string
		path           string
		token          string
		expectedStatus int
		expectedTotal  int
	}{
		{"admin paid orders", "/api/v1/admin/payments/orders?status=PAID", s.adminToken(t), http.StatusOK, 1},
		{"admin pending orders", "/api/v1/admin/payments/orders?status=PENDING", s.adminToken(t), http.StatusOK, 0},
		{"admin bad status", "/api/v1/admin/payments/orders?status=REFUNDED", s.adminToken(t), http.StatusBadRequest, 0},
		{"admin search is case-insensitive", "/api/v1/admin/payments/transactions?search=" + strings.ToUpper("ref_"), s.adminToken(t), http.StatusOK, 1},
		{"admin transactions by user", "/api/v1/admin/payments/transactions?userId=" + ownerID, s.adminToken(t), http.StatusOK, 1},
		{"user cannot list all orders", "/api/v1/admin/payments/orders", s.ownerToken(t), http.StatusForbidden, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, tt.token, nil)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedTotal, decode[struct {
					Total int `json:"total"`
				}](t, w).Total)
			}
		})
	}
}
