package services

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/paystack"
	"github.com/stwalsh4118/verrify/internal/pin"
	"github.com/stwalsh4118/verrify/internal/repository/memory"
	"github.com/stwalsh4118/verrify/internal/stages"
)

const testSecret = "sk_test_secret"

var (
	owner    = authz.Actor{UserID: "user-1", Role: authz.RoleUser}
	stranger = authz.Actor{UserID: "user-2", Role: authz.RoleUser}
	admin    = authz.Actor{UserID: "admin-1", Role: authz.RoleAdmin}
	admin2   = authz.Actor{UserID: "admin-2", Role: authz.RoleSuperAdmin}
)

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

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) ofType(t notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// forStage returns the pipeline update sent for stage. Dispatch is
// asynchronous, so arrival order says nothing about stage order.
func (n *recordingNotifier) forStage(stage models.Stage) (notify.Event, bool) {
	for _, ev := range n.ofType(notify.VerificationPipelineUpdate) {
		if ev.Stage == string(stage) {
			return ev, true
		}
	}
	return notify.Event{}, false
}

type fakeProvider struct {
	mu    sync.Mutex
	calls []paystack.InitializeRequest
	refs  []string
	err   error
}

func (p *fakeProvider) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	ref := "ref_" + string(rune('a'+len(p.calls)-1))
	p.refs = append(p.refs, ref)
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.com/" + ref,
		AccessCode:       "ac_" + ref,
		Reference:        ref,
	}, nil
}

type harness struct {
	store         *memory.Store
	parcels       ParcelService
	verifications VerificationService
	orders        OrderService
	payments      PaymentService
	provider      *fakeProvider
	notifier      *recordingNotifier
	dispatcher    *notify.Dispatcher
	metrics       *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	log := logger.Nop()
	m := metrics.New(prometheus.NewRegistry())
	rec := &recordingNotifier{}
	dispatcher := notify.NewDispatcher(rec, log, m, 0)
	machine := stages.NewMachine(authz.DefaultPolicy())
	validator := geometry.NewValidator(0)
	provider := &fakeProvider{}

	orders := NewOrderService(store, machine, Fee{Amount: decimal.NewFromInt(50000), Currency: "NGN"}, dispatcher, m, log)
	h := &harness{
		store:         store,
		parcels:       NewParcelService(store, validator, authz.DefaultPolicy(), m, log),
		verifications: NewVerificationService(store, machine, validator, pin.NewGenerator(), dispatcher, m, log),
		orders:        orders,
		payments: NewPaymentService(store, orders, machine, provider,
			PaymentConfig{SecretKey: testSecret, CallbackURL: "http://localhost:3000/payments/callback"},
			dispatcher, m, log),
		provider:   provider,
		notifier:   rec,
		dispatcher: dispatcher,
		metrics:    m,
	}

	ctx := context.Background()
	for _, u := range []models.User{
		{ID: owner.UserID, Email: "ada@example.com", FirstName: "Ada", LastName: "Obi"},
		{ID: stranger.UserID, Email: "bayo@example.com", FirstName: "Bayo"},
		{ID: admin.UserID, Email: "admin@example.com", FirstName: "Ife", Role: string(authz.RoleAdmin)},
	} {
		u := u
		require.NoError(t, store.Users().Upsert(ctx, &u))
	}
	return h
}

func landInput(name string, poly models.Polygon) ParcelInput {
	return ParcelInput{
		Name:    name,
		Type:    models.ParcelTypeLand,
		Address: "12 Marina",
		City:    "Lagos",
		State:   "Lagos",
		Country: "Nigeria",
		Polygon: poly,
	}
}

// initiate creates a verification for a new parcel owned by owner.
func (h *harness) initiate(t *testing.T, poly models.Polygon) *models.VerificationRequest {
	t.Helper()
	v, err := h.verifications.Initiate(context.Background(), owner, InitiateInput{
		Parcel:            landInput("Plot 7", poly),
		VerificationFiles: []string{"https://files.example.com/deed.pdf"},
	})
	require.NoError(t, err)
	return v
}

// accepted drives a new verification to VERIFICATION_ACCEPTED.
func (h *harness) accepted(t *testing.T, poly models.Polygon) *models.VerificationRequest {
	t.Helper()
	return h.accept(t, h.initiate(t, poly))
}

// accept drives an INITIATED verification to VERIFICATION_ACCEPTED.
func (h *harness) accept(t *testing.T, v *models.VerificationRequest) *models.VerificationRequest {
	t.Helper()
	ctx := context.Background()
	_, err := h.verifications.Submit(ctx, owner, v.ID)
	require.NoError(t, err)
	_, err = h.verifications.Assign(ctx, admin, v.ID)
	require.NoError(t, err)
	v, err = h.verifications.Verdict(ctx, admin, v.ID, VerdictInput{Verdict: models.VerdictAccepted, Comments: "documents check out"})
	require.NoError(t, err)
	return v
}

// paid drives a new verification through payment confirmation.
func (h *harness) paid(t *testing.T, poly models.Polygon) *models.VerificationRequest {
	t.Helper()
	return h.pay(t, h.accepted(t, poly))
}

// pay settles an accepted verification through the webhook.
func (h *harness) pay(t *testing.T, v *models.VerificationRequest) *models.VerificationRequest {
	t.Helper()
	ctx := context.Background()
	checkout, err := h.payments.InitializePayment(ctx, owner, v.ID)
	require.NoError(t, err)
	outcome, err := h.payments.HandleEvent(ctx, chargeSuccess(checkout.Reference))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)
	v, err = h.verifications.Get(ctx, owner, v.ID)
	require.NoError(t, err)
	return v
}

func chargeSuccess(reference string) *paystack.Event {
	return &paystack.Event{
		Event: paystack.EventChargeSuccess,
		Data:  paystack.EventData{Reference: reference, Status: "success", Amount: 5000000, Currency: "NGN"},
	}
}
