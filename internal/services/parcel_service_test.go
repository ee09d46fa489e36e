package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/verrify/internal/apperr"
	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/repository"
	"github.com/stwalsh4118/verrify/internal/repository/memory"
)

// MockParcelRepository mocks the point queries; every other method panics.
type MockParcelRepository struct {
	repository.ParcelRepository
	mock.Mock
}

func (m *MockParcelRepository) FindByPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error) {
	args := m.Called(ctx, lat, lng)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	parcel, ok := args.Get(0).(*models.Parcel)
	if !ok {
		return nil, args.Error(1)
	}
	return parcel, args.Error(1)
}

func (m *MockParcelRepository) FindNearby(ctx context.Context, lat, lng float64, radius int) ([]models.ParcelWithDistance, error) {
	args := m.Called(ctx, lat, lng, radius)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ParcelWithDistance), args.Error(1)
}

// mockParcelStore serves parcels from the mock and everything else from memory.
type mockParcelStore struct {
	*memory.Store
	parcels *MockParcelRepository
}

func (s mockParcelStore) Parcels() repository.ParcelRepository {
	return s.parcels
}

func newMockedParcelService() (ParcelService, *MockParcelRepository) {
	repo := new(MockParcelRepository)
	store := mockParcelStore{Store: memory.New(), parcels: repo}
	svc := NewParcelService(store, geometry.NewValidator(0), authz.DefaultPolicy(),
		metrics.New(prometheus.NewRegistry()), logger.Nop())
	return svc, repo
}

func TestGetParcelAtPoint_Success(t *testing.T) {
	service, mockRepo := newMockedParcelService()
	ctx := context.Background()
	lat, lng := 6.4531, 3.3958

	expected := &models.Parcel{ID: "parcel-1", Name: "Plot 7", OwnerName: "Ada Obi", Status: models.ParcelVerified}
	mockRepo.On("FindByPoint", ctx, lat, lng).Return(expected, nil)

	parcel, err := service.GetParcelAtPoint(ctx, lat, lng)

	require.NoError(t, err)
	assert.Equal(t, expected.ID, parcel.ID)
	assert.Equal(t, "Ada Obi", parcel.OwnerName)
	mockRepo.AssertExpectations(t)
}

func TestGetParcelAtPoint_NotFound(t *testing.T) {
	service, mockRepo := newMockedParcelService()
	ctx := context.Background()
	lat, lng := 6.4531, 3.3958

	// Repository returns nil, nil when no parcel found
	mockRepo.On("FindByPoint", ctx, lat, lng).Return(nil, nil)

	parcel, err := service.GetParcelAtPoint(ctx, lat, lng)

	assert.Nil(t, parcel)
	assert.ErrorIs(t, err, ErrParcelNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	mockRepo.AssertExpectations(t)
}

func TestGetParcelAtPoint_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lng     float64
		message string
	}{
		{name: "latitude too high", lat: 91.0, lng: 3.39, message: "latitude must be between"},
		{name: "latitude too low", lat: -91.0, lng: 3.39, message: "latitude must be between"},
		{name: "longitude too high", lat: 6.45, lng: 181.0, message: "longitude must be between"},
		{name: "longitude too low", lat: 6.45, lng: -181.0, message: "longitude must be between"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mockRepo := newMockedParcelService()

			parcel, err := service.GetParcelAtPoint(context.Background(), tt.lat, tt.lng)

			assert.Nil(t, parcel)
			assert.ErrorIs(t, err, ErrInvalidCoordinates)
			assert.Contains(t, err.Error(), tt.message)
			// Repository should not be called for validation errors
			mockRepo.AssertNotCalled(t, "FindByPoint")
		})
	}
}

func TestGetParcelAtPoint_RepositoryError(t *testing.T) {
	service, mockRepo := newMockedParcelService()
	ctx := context.Background()
	lat, lng := 6.4531, 3.3958

	dbError := errors.New("database connection failed")
	mockRepo.On("FindByPoint", ctx, lat, lng).Return(nil, dbError)

	parcel, err := service.GetParcelAtPoint(ctx, lat, lng)

	assert.Nil(t, parcel)
	assert.Contains(t, err.Error(), "failed to query parcel")
	assert.ErrorIs(t, err, dbError)
	mockRepo.AssertExpectations(t)
}

func TestGetParcelAtPoint_ContextCancellation(t *testing.T) {
	service, mockRepo := newMockedParcelService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lat, lng := 6.4531, 3.3958

	mockRepo.On("FindByPoint", ctx, lat, lng).Return(nil, context.Canceled)

	parcel, err := service.GetParcelAtPoint(ctx, lat, lng)

	assert.Nil(t, parcel)
	assert.ErrorIs(t, err, context.Canceled)
	mockRepo.AssertExpectations(t)
}

func TestGetParcelAtPoint_BoundaryValues(t *testing.T) {
	testCases := []struct {
		name string
		lat  float64
		lng  float64
	}{
		{name: "Min valid latitude", lat: -90.0, lng: 0.0},
		{name: "Max valid latitude", lat: 90.0, lng: 0.0},
		{name: "Min valid longitude", lat: 0.0, lng: -180.0},
		{name: "Max valid longitude", lat: 0.0, lng: 180.0},
		{name: "Equator and prime meridian", lat: 0.0, lng: 0.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			service, mockRepo := newMockedParcelService()
			ctx := context.Background()
			mockRepo.On("FindByPoint", ctx, tc.lat, tc.lng).Return(nil, nil)

			_, err := service.GetParcelAtPoint(ctx, tc.lat, tc.lng)

			// Should get ErrParcelNotFound since we mock nil return
			assert.ErrorIs(t, err, ErrParcelNotFound)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestGetNearbyParcels(t *testing.T) {
	tests := []struct {
		name      string
		lat, lng  float64
		radius    int
		wantErr   error
		wantCalls bool
	}{
		{name: "valid", lat: 6.45, lng: 3.39, radius: 500, wantCalls: true},
		{name: "min radius", lat: 6.45, lng: 3.39, radius: MinRadiusMeters, wantCalls: true},
		{name: "max radius", lat: 6.45, lng: 3.39, radius: MaxRadiusMeters, wantCalls: true},
		{name: "radius too small", lat: 6.45, lng: 3.39, radius: 0, wantErr: ErrInvalidRadius},
		{name: "radius too large", lat: 6.45, lng: 3.39, radius: 5001, wantErr: ErrInvalidRadius},
		{name: "bad latitude", lat: 100, lng: 3.39, radius: 500, wantErr: ErrInvalidCoordinates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mockRepo := newMockedParcelService()
			ctx := context.Background()
			if tt.wantCalls {
				mockRepo.On("FindNearby", ctx, tt.lat, tt.lng, tt.radius).Return(nil, nil)
			}

			got, err := service.GetNearbyParcels(ctx, tt.lat, tt.lng, tt.radius)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				mockRepo.AssertNotCalled(t, "FindNearby")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, got, "empty results are an empty slice")
			assert.Empty(t, got)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestCoordinateConstants(t *testing.T) {
	assert.Equal(t, -90.0, MinLatitude)
	assert.Equal(t, 90.0, MaxLatitude)
	assert.Equal(t, -180.0, MinLongitude)
	assert.Equal(t, 180.0, MaxLongitude)
}

func TestCreateParcel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.parcels.CreateParcel(ctx, owner, landInput("Plot 1", square(0, 0, 10)))
	require.NoError(t, err)
	assert.Equal(t, models.ParcelNotVerified, p.Status)
	assert.Equal(t, owner.UserID, p.OwnerID)
	assert.InDelta(t, 1.22e6, p.Area, 0.02e6)

	tests := []struct {
		name    string
		in      ParcelInput
		wantErr error
	}{
		{name: "missing name", in: landInput(" ", square(50, 0, 1)), wantErr: ErrMissingField},
		{name: "unknown type", in: ParcelInput{Name: "x", Type: "CASTLE", Polygon: square(50, 0, 1)}, wantErr: ErrInvalidParcelType},
		{name: "missing polygon", in: ParcelInput{Name: "x", Type: models.ParcelTypeLand}, wantErr: ErrMissingField},
		{name: "bowtie", in: landInput("bowtie", models.Polygon{Coordinates: [][][2]float64{{
			{3.40, 6.40}, {3.41, 6.41}, {3.41, 6.40}, {3.40, 6.41}, {3.40, 6.40},
		}}}), wantErr: geometry.ErrInvalidPolygon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.parcels.CreateParcel(ctx, owner, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCreateParcel_OverlapWithVerifiedClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	verified := &models.Parcel{Name: "Crown Estate", OwnerID: stranger.UserID, Status: models.ParcelVerified,
		Location: models.Location{Polygon: square(0, 0, 10)}}
	require.NoError(t, h.store.Parcels().Create(ctx, verified))

	_, err := h.parcels.CreateParcel(ctx, owner, landInput("Overlapping", square(5, 5, 10)))
	require.ErrorIs(t, err, geometry.ErrOverlapDetected)

	e, ok := apperr.As(err)
	require.True(t, ok)
	overlaps, ok := e.Details["overlaps"].([]geometry.Overlap)
	require.True(t, ok)
	require.Len(t, overlaps, 1)
	assert.Equal(t, verified.ID, overlaps[0].ParcelID)
	assert.Equal(t, "Bayo", overlaps[0].OwnerName)
	assert.InDelta(t, 25.0, overlaps[0].OverlapPercent, 0.5)

	// Unverified parcels are not claims.
	_, err = h.parcels.CreateParcel(ctx, owner, landInput("Next door", square(20, 0, 10)))
	require.NoError(t, err)
	_, err = h.parcels.CreateParcel(ctx, stranger, landInput("Same spot", square(20, 0, 10)))
	require.NoError(t, err)
}

func TestCreateSubParcel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parent := &models.Parcel{Name: "Estate", OwnerID: owner.UserID, Status: models.ParcelVerified, Type: models.ParcelTypeLand,
		Location: models.Location{State: "Lagos", City: "Lagos", Polygon: square(0, 0, 10)}}
	require.NoError(t, h.store.Parcels().Create(ctx, parent))
	unverified, err := h.parcels.CreateParcel(ctx, owner, landInput("Loose", square(30, 0, 10)))
	require.NoError(t, err)

	t.Run("inside the parent", func(t *testing.T) {
		sub, err := h.parcels.CreateSubParcel(ctx, owner, parent.ID, ParcelInput{Name: "Block A", Polygon: square(1, 1, 3)})
		require.NoError(t, err)
		assert.True(t, sub.IsSubParcel)
		require.NotNil(t, sub.ParentID)
		assert.Equal(t, parent.ID, *sub.ParentID)
		assert.Equal(t, "Lagos", sub.Location.State)
	})

	tests := []struct {
		name     string
		actor    authz.Actor
		parentID string
		polygon  models.Polygon
		wantErr  error
	}{
		{name: "outside the parent", actor: owner, parentID: parent.ID, polygon: square(8, 8, 5), wantErr: geometry.ErrNotContained},
		{name: "not the owner", actor: stranger, parentID: parent.ID, polygon: square(5, 5, 1), wantErr: ErrNotParcelOwner},
		{name: "unverified parent", actor: owner, parentID: unverified.ID, polygon: square(31, 1, 1), wantErr: ErrParentNotVerified},
		{name: "missing parent", actor: owner, parentID: "nope", polygon: square(1, 1, 1), wantErr: ErrParcelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.parcels.CreateSubParcel(ctx, tt.actor, tt.parentID, ParcelInput{Name: "Block", Polygon: tt.polygon})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpdateParcel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.parcels.CreateParcel(ctx, owner, landInput("Plot 1", square(0, 0, 10)))
	require.NoError(t, err)

	name := "Plot 1A"
	bigger := square(0, 0, 12)
	updated, err := h.parcels.UpdateParcel(ctx, owner, p.ID, ParcelChanges{Name: &name, Polygon: &bigger})
	require.NoError(t, err)
	assert.Equal(t, "Plot 1A", updated.Name)
	assert.Greater(t, updated.Area, p.Area)

	_, err = h.parcels.UpdateParcel(ctx, stranger, p.ID, ParcelChanges{Name: &name})
	assert.ErrorIs(t, err, ErrNotParcelOwner)

	// Verified parcels are frozen.
	stored, err := h.store.Parcels().Get(ctx, p.ID)
	require.NoError(t, err)
	stored.Status = models.ParcelVerified
	require.NoError(t, h.store.Parcels().Update(ctx, stored))
	_, err = h.parcels.UpdateParcel(ctx, owner, p.ID, ParcelChanges{Name: &name})
	assert.ErrorIs(t, err, ErrParcelNotEditable)
}

func TestGetParcel_Visibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	private, err := h.parcels.CreateParcel(ctx, owner, landInput("Private", square(0, 0, 1)))
	require.NoError(t, err)
	public := &models.Parcel{Name: "Public", OwnerID: owner.UserID, Status: models.ParcelVerified, IsPublic: true,
		Location: models.Location{Polygon: square(5, 5, 1)}}
	require.NoError(t, h.store.Parcels().Create(ctx, public))

	tests := []struct {
		name    string
		actor   authz.Actor
		id      string
		visible bool
	}{
		{name: "owner sees private", actor: owner, id: private.ID, visible: true},
		{name: "admin sees private", actor: admin, id: private.ID, visible: true},
		{name: "stranger cannot see private", actor: stranger, id: private.ID, visible: false},
		{name: "stranger sees public verified", actor: stranger, id: public.ID, visible: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.parcels.GetParcel(ctx, tt.actor, tt.id)
			if !tt.visible {
				assert.ErrorIs(t, err, ErrParcelNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, got.ID)
		})
	}
}
