package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/middleware"
)

func TestRouter_PublicRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"health", "/health", http.StatusOK},
		{"readiness against the store", "/health/ready", http.StatusOK},
		{"info", "/api/v1/info", http.StatusOK},
		{"unknown route", "/api/v1/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
			if tt.expectedStatus == http.StatusNotFound {
				assert.Equal(t, apierrors.ErrNotFound, errorCode(t, w))
			}
		})
	}
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	s := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/parcels"},
		{http.MethodGet, "/api/v1/parcels/p-1"},
		{http.MethodPatch, "/api/v1/parcels/p-1"},
		{http.MethodPost, "/api/v1/parcels/p-1/sub-parcels"},
		{http.MethodPost, "/api/v1/verifications"},
		{http.MethodGet, "/api/v1/verifications"},
		{http.MethodGet, "/api/v1/verifications/v-1"},
		{http.MethodPatch, "/api/v1/verifications/v-1"},
		{http.MethodPost, "/api/v1/verifications/v-1/submit"},
		{http.MethodPost, "/api/v1/payments/verifications/v-1/initialize"},
		{http.MethodGet, "/api/v1/payments/orders"},
		{http.MethodGet, "/api/v1/payments/transactions"},
		{http.MethodGet, "/api/v1/admin/verifications"},
		{http.MethodPost, "/api/v1/admin/verifications/v-1/assign"},
		{http.MethodPost, "/api/v1/admin/verifications/v-1/verdict"},
		{http.MethodPost, "/api/v1/admin/verifications/v-1/advance"},
		{http.MethodGet, "/api/v1/admin/payments/orders"},
		{http.MethodGet, "/api/v1/admin/payments/transactions"},
	}

	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			w := s.do(t, r.method, r.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w = s.do(t, r.method, r.path, "not-a-jwt", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/verifications", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", "", nil)
	s.do(t, http.MethodGet, "/api/v1/nope", "", nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `verrify_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `verrify_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.Contains(t, body, "verrify_http_request_duration_seconds")
}
