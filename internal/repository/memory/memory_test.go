package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/repository"
)

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

func addParcel(t *testing.T, s *Store, status models.ParcelStatus, poly models.Polygon) *models.Parcel {
	t.Helper()
	p := &models.Parcel{Name: "plot", Status: status, OwnerID: "u1", Location: models.Location{Polygon: poly}}
	require.NoError(t, s.Parcels().Create(context.Background(), p))
	return p
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	kept := addParcel(t, s, models.ParcelNotVerified, square(0, 0, 1))

	boom := errors.New("boom")
	var created string
	err := s.WithTx(ctx, func(tx repository.Repositories) error {
		p := &models.Parcel{Name: "temp", Status: models.ParcelNotVerified}
		require.NoError(t, tx.Parcels().Create(ctx, p))
		created = p.ID

		kept.Name = "changed"
		require.NoError(t, tx.Parcels().Update(ctx, kept))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Parcels().Get(ctx, created)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Parcels().Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "plot", got.Name)
}

func TestWithTx_Commits(t *testing.T) {
	s := New()
	ctx := context.Background()

	var id string
	require.NoError(t, s.WithTx(ctx, func(tx repository.Repositories) error {
		p := &models.Parcel{Name: "kept"}
		if err := tx.Parcels().Create(ctx, p); err != nil {
			return err
		}
		id = p.ID
		return nil
	}))

	got, err := s.Parcels().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "kept", got.Name)
}

func TestWithTx_Serializes(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Users().Upsert(ctx, &models.User{ID: "counter", FirstName: "0"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTx(ctx, func(tx repository.Repositories) error {
				u, _ := tx.Users().Get(ctx, "counter")
				u.FirstName += "1"
				return tx.Users().Upsert(ctx, u)
			})
		}()
	}
	wg.Wait()

	u, err := s.Users().Get(ctx, "counter")
	require.NoError(t, err)
	assert.Len(t, u.FirstName, 51)
}

func TestParcels_OwnerNameAndPIN(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Users().Upsert(ctx, &models.User{ID: "u1", FirstName: "Ada", LastName: "Obi"}))

	pin := "VP-LA-25-1234"
	p := &models.Parcel{Name: "a", OwnerID: "u1", Status: models.ParcelVerified, PIN: &pin}
	require.NoError(t, s.Parcels().Create(ctx, p))

	got, err := s.Parcels().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Obi", got.OwnerName)

	exists, err := s.Parcels().PINExists(ctx, pin)
	require.NoError(t, err)
	assert.True(t, exists)

	dup := &models.Parcel{Name: "b", OwnerID: "u1", PIN: &pin}
	assert.ErrorIs(t, s.Parcels().Create(ctx, dup), repository.ErrDuplicate)
}

func TestParcels_OverlapCandidates(t *testing.T) {
	s := New()
	ctx := context.Background()
	verified := addParcel(t, s, models.ParcelVerified, square(0, 0, 10))
	pending := addParcel(t, s, models.ParcelPending, square(5, 0, 10))
	addParcel(t, s, models.ParcelNotVerified, square(0, 0, 10))
	addParcel(t, s, models.ParcelVerified, square(100, 100, 1))

	got, err := s.Parcels().OverlapCandidates(ctx, square(6, 1, 2), []string{pending.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, verified.ID, got[0].ParcelID)
}

func TestParcels_PointQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	parent := addParcel(t, s, models.ParcelVerified, square(0, 0, 10))
	sub := &models.Parcel{Name: "sub", Status: models.ParcelVerified, IsSubParcel: true, ParentID: &parent.ID,
		Location: models.Location{Polygon: square(1, 1, 2)}}
	require.NoError(t, s.Parcels().Create(ctx, sub))
	addParcel(t, s, models.ParcelPending, square(20, 0, 1))

	got, err := s.Parcels().FindByPoint(ctx, 6.452, 3.352)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sub.ID, got.ID)

	got, err = s.Parcels().FindByPoint(ctx, 6.4505, 3.3705)
	require.NoError(t, err)
	assert.Nil(t, got)

	near, err := s.Parcels().FindNearby(ctx, 6.455, 3.355, 500)
	require.NoError(t, err)
	require.Len(t, near, 2)
	assert.Equal(t, parent.ID, near[0].Parcel.ID)
	assert.Zero(t, near[0].Distance)
	assert.Greater(t, near[1].Distance, 0.0)
}

func TestVerifications_UniquenessAndCaseIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	v := &models.VerificationRequest{ParcelID: "p1", Stage: models.StageInitiated}
	require.NoError(t, s.Verifications().Create(ctx, v))
	assert.ErrorIs(t, s.Verifications().Create(ctx, &models.VerificationRequest{ParcelID: "p1", Stage: models.StageInReview}), repository.ErrDuplicate)

	v.Stage = models.StageVerificationRejected
	require.NoError(t, s.Verifications().Update(ctx, v))
	require.NoError(t, s.Verifications().Create(ctx, &models.VerificationRequest{ParcelID: "p1", Stage: models.StageInitiated}))

	for i, id := range []string{"VR-2025-001", "VR-2025-002", "VR-2024-900"} {
		caseID := id
		require.NoError(t, s.Verifications().Create(ctx, &models.VerificationRequest{
			ParcelID: "other-" + string(rune('a'+i)), Stage: models.StageVerificationComplete, CaseID: &caseID,
		}))
	}
	maxID, err := s.Verifications().MaxCaseID(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, "VR-2025-002", maxID)

	maxID, err = s.Verifications().MaxCaseID(ctx, 2026)
	require.NoError(t, err)
	assert.Empty(t, maxID)

	items, total, err := s.Verifications().List(ctx, models.VerificationFilter{Search: "vr-2025", Page: models.Page{Number: 1, Limit: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)
}

func TestPayments_AggregateAndLists(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := &models.VerificationRequest{ParcelID: "p1", UserID: "u1", Stage: models.StagePendingPayment}
	require.NoError(t, s.Verifications().Create(ctx, v))

	o := &models.Order{Amount: decimal.NewFromInt(50000), Currency: "NGN", Status: models.OrderPending, UserID: "u1", VerificationID: v.ID}
	require.NoError(t, s.Orders().Create(ctx, o))
	assert.ErrorIs(t, s.Orders().Create(ctx, &models.Order{Status: models.OrderPending, VerificationID: v.ID}), repository.ErrDuplicate)

	txn := &models.Transaction{Amount: o.Amount, Reference: "ref_abc", Status: models.TransactionPending, OrderID: o.ID}
	require.NoError(t, s.Transactions().Create(ctx, txn))
	assert.ErrorIs(t, s.Transactions().Create(ctx, &models.Transaction{Reference: "ref_abc"}), repository.ErrDuplicate)

	agg, err := s.Transactions().GetAggregate(ctx, "ref_abc")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, o.ID, agg.Order.ID)
	require.NotNil(t, agg.Verification)
	assert.Equal(t, v.ID, agg.Verification.ID)

	missing, err := s.Transactions().LockByReference(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, total, err := s.Transactions().List(ctx, models.TransactionFilter{UserID: "u1", Search: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)

	orders, total, err := s.Orders().List(ctx, models.OrderFilter{Status: models.OrderPaid})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)
}
