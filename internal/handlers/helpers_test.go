package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/verrify/internal/authz"
	apierrors "github.com/stwalsh4118/verrify/internal/errors"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/middleware"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/paystack"
	"github.com/stwalsh4118/verrify/internal/pin"
	"github.com/stwalsh4118/verrify/internal/repository/memory"
	"github.com/stwalsh4118/verrify/internal/services"
	"github.com/stwalsh4118/verrify/internal/stages"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testPaystackKey   = "sk_test_handlers"
	ownerID           = "user-1"
	strangerID        = "user-2"
	adminID           = "admin-1"
	testTokenLifetime = time.Hour
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	mu sync.Mutex
	n  int
}

func (p *stubProvider) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	ref := "ref_" + string(rune('a'+p.n-1))
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.com/" + ref,
		AccessCode:       "ac_" + ref,
		Reference:        ref,
	}, nil
}

type testServer struct {
	router     *gin.Engine
	store      *memory.Store
	verifier   *middleware.TokenVerifier
	dispatcher *notify.Dispatcher
}

// newTestServer wires the full router over the in-memory store.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	log := logger.Nop()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(log), log, m, 0)
	policy := authz.DefaultPolicy()
	machine := stages.NewMachine(policy)
	validator := geometry.NewValidator(0)
	verifier := middleware.NewTokenVerifier(testJWTSecret, "verrify")

	orders := services.NewOrderService(store, machine,
		services.Fee{Amount: decimal.NewFromInt(50000), Currency: "NGN"}, dispatcher, m, log)
	payments := services.NewPaymentService(store, orders, machine, &stubProvider{},
		services.PaymentConfig{SecretKey: testPaystackKey, CallbackURL: "http://localhost:3000/payments/callback"},
		dispatcher, m, log)

	router := NewRouter(RouterDeps{
		Log:           log,
		Metrics:       m,
		Gatherer:      registry,
		CORSOrigins:   []string{"http://localhost:3000"},
		Verifier:      verifier,
		Policy:        policy,
		Health:        NewHealthHandler("test", "test", Dependency{Name: "database", Pinger: store, Required: true}),
		Parcels:       NewParcelHandler(services.NewParcelService(store, validator, policy, m, log)),
		Verifications: NewVerificationHandler(services.NewVerificationService(store, machine, validator, pin.NewGenerator(), dispatcher, m, log)),
		Payments:      NewPaymentHandler(payments, orders),
	})

	t.Cleanup(dispatcher.Wait)
	return &testServer{router: router, store: store, verifier: verifier, dispatcher: dispatcher}
}

func (s *testServer) token(t *testing.T, userID string, role authz.Role) string {
	t.Helper()
	tok, err := s.verifier.Issue(userID, role, userID+"@example.com", testTokenLifetime)
	require.NoError(t, err)
	return tok
}

func (s *testServer) ownerToken(t *testing.T) string {
	return s.token(t, ownerID, authz.RoleUser)
}

func (s *testServer) adminToken(t *testing.T) string {
	return s.token(t, adminID, authz.RoleAdmin)
}

// do sends a request with an optional JSON body and bearer token.
func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// webhook posts a raw body with the given signature header.
func (s *testServer) webhook(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(paystack.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apierrors.ErrorResponse](t, w).Error.Code
}

// square returns a closed square in Lagos, offset and sized in units of
// roughly 110 m.
func square(x, y, size float64) models.Polygon {
	const unit = 0.001
	lng, lat := 3.35+x*unit, 6.45+y*unit
	s := size * unit
	return models.Polygon{
		Coordinates: [][][2]float64{{
			{lng, lat}, {lng + s, lat}, {lng + s, lat + s}, {lng, lat + s}, {lng, lat},
		}},
		SRID: models.DefaultSRID,
	}
}

func parcelBody(name string, poly models.Polygon) CreateParcelRequest {
	return CreateParcelRequest{
		Name:         name,
		PropertyType: string(models.ParcelTypeLand),
		IsPublic:     true,
		Location: LocationRequest{
			Address: "12 Marina",
			City:    "Lagos",
			State:   "Lagos",
			Country: "Nigeria",
			Polygon: poly,
		},
	}
}
