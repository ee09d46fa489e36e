package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/metrics"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/repository"
)

// Coordinate validation constants
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Radius validation constants
const (
	MinRadiusMeters = 1
	MaxRadiusMeters = 5000
)

// ParcelInput carries the fields of a new parcel.
type ParcelInput struct {
	Name        string
	Description string
	Type        models.ParcelType
	Address     string
	City        string
	State       string
	Country     string
	Polygon     models.Polygon
	IsPublic    bool
}

// ParcelChanges carries optional parcel edits. Nil fields are left alone.
type ParcelChanges struct {
	Name        *string
	Description *string
	Type        *models.ParcelType
	Address     *string
	City        *string
	State       *string
	Country     *string
	Polygon     *models.Polygon
	IsPublic    *bool
}

// Empty reports whether no field is set.
func (c ParcelChanges) Empty() bool {
	return c.Name == nil && c.Description == nil && c.Type == nil &&
		c.Address == nil && c.City == nil && c.State == nil && c.Country == nil &&
		c.Polygon == nil && c.IsPublic == nil
}

// ParcelService defines the interface for parcel business logic operations.
type ParcelService interface {
	// CreateParcel registers a new unverified parcel owned by the caller.
	// The boundary must be valid and must not overlap an active claim.
	CreateParcel(ctx context.Context, actor authz.Actor, in ParcelInput) (*models.Parcel, error)

	// CreateSubParcel registers a parcel inside a verified parent the caller
	// owns. The boundary must lie within the parent and must not overlap any
	// other active claim.
	CreateSubParcel(ctx context.Context, actor authz.Actor, parentID string, in ParcelInput) (*models.Parcel, error)

	// UpdateParcel applies changes to a parcel that is still unverified or
	// rejected. A changed boundary is validated again.
	UpdateParcel(ctx context.Context, actor authz.Actor, id string, changes ParcelChanges) (*models.Parcel, error)

	// GetParcel returns a parcel visible to the caller: its own parcels, any
	// parcel for admins, and public verified parcels for everyone.
	GetParcel(ctx context.Context, actor authz.Actor, id string) (*models.Parcel, error)

	// GetParcelAtPoint retrieves the verified parcel that contains the given lat/lng point.
	// Returns ErrInvalidCoordinates if coordinates are out of valid range.
	// Returns ErrParcelNotFound if no parcel exists at the point.
	GetParcelAtPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error)

	// GetNearbyParcels retrieves verified parcels within the specified radius of the given point.
	// Returns ErrInvalidCoordinates if coordinates are out of valid range.
	// Returns ErrInvalidRadius if radius is not between 1 and 5000 meters.
	// Returns empty slice if no parcels found (not an error).
	GetNearbyParcels(ctx context.Context, lat, lng float64, radiusMeters int) ([]models.ParcelWithDistance, error)
}

// claimChecker validates parcel boundaries against the active claims and
// counts rejections.
type claimChecker struct {
	validator *geometry.Validator
	metrics   *metrics.Metrics
}

// parcelService is the concrete implementation of ParcelService.
type parcelService struct {
	claimChecker
	store  repository.Store
	policy *authz.Policy
	log    *logger.Logger
}

// NewParcelService creates a new instance of ParcelService.
func NewParcelService(store repository.Store, validator *geometry.Validator, policy *authz.Policy, m *metrics.Metrics, log *logger.Logger) ParcelService {
	return &parcelService{
		claimChecker: claimChecker{validator: validator, metrics: m},
		store:        store,
		policy:       policy,
		log:          log.WithComponent("parcels"),
	}
}

// parcelArea returns the boundary area rounded to whole square metres.
func parcelArea(p models.Polygon) float64 {
	return math.Round(geometry.Area(p))
}

func (in ParcelInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return missing("name")
	}
	if in.Type == "" {
		return missing("propertyType")
	}
	if !in.Type.Valid() {
		return ErrInvalidParcelType.WithDetail("propertyType", in.Type)
	}
	if in.Polygon.IsEmpty() {
		return missing("polygon")
	}
	return nil
}

func (in ParcelInput) toParcel(ownerID string) *models.Parcel {
	return &models.Parcel{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Type:        in.Type,
		Status:      models.ParcelNotVerified,
		OwnerID:     ownerID,
		IsPublic:    in.IsPublic,
		Area:        parcelArea(in.Polygon),
		Location: models.Location{
			Address: in.Address,
			City:    in.City,
			State:   in.State,
			Country: in.Country,
			Polygon: in.Polygon,
		},
	}
}

// apply copies the set fields of c onto p and reports whether the boundary
// changed.
func (c ParcelChanges) apply(p *models.Parcel) (bool, error) {
	if c.Name != nil {
		if strings.TrimSpace(*c.Name) == "" {
			return false, missing("name")
		}
		p.Name = strings.TrimSpace(*c.Name)
	}
	if c.Description != nil {
		p.Description = *c.Description
	}
	if c.Type != nil {
		if !c.Type.Valid() {
			return false, ErrInvalidParcelType.WithDetail("propertyType", *c.Type)
		}
		p.Type = *c.Type
	}
	if c.Address != nil {
		p.Location.Address = *c.Address
	}
	if c.City != nil {
		p.Location.City = *c.City
	}
	if c.State != nil {
		p.Location.State = *c.State
	}
	if c.Country != nil {
		p.Location.Country = *c.Country
	}
	if c.IsPublic != nil {
		p.IsPublic = *c.IsPublic
	}
	if c.Polygon == nil {
		return false, nil
	}
	if c.Polygon.IsEmpty() {
		return false, missing("polygon")
	}
	p.Location.Polygon = *c.Polygon
	p.Area = parcelArea(*c.Polygon)
	return true, nil
}

func (s *parcelService) CreateParcel(ctx context.Context, actor authz.Actor, in ParcelInput) (*models.Parcel, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	parcel := in.toParcel(actor.UserID)
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		if err := s.validator.ValidateClaim(ctx, tx.Parcels(), in.Polygon); err != nil {
			recordGeometryRejection(s.metrics, err)
			return err
		}
		return tx.Parcels().Create(ctx, parcel)
	})
	if err != nil {
		s.log.Warn("Parcel creation rejected", map[string]interface{}{
			"owner_id": actor.UserID,
			"error":    err.Error(),
		})
		return nil, err
	}

	s.log.Info("Parcel created", map[string]interface{}{
		"parcel_id": parcel.ID,
		"owner_id":  parcel.OwnerID,
		"area":      parcel.Area,
	})
	return parcel, nil
}

func (s *parcelService) CreateSubParcel(ctx context.Context, actor authz.Actor, parentID string, in ParcelInput) (*models.Parcel, error) {
	if in.Type == "" {
		in.Type = models.ParcelTypeLand
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var parcel *models.Parcel
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		parent, err := tx.Parcels().Get(ctx, parentID)
		if err != nil {
			return fmt.Errorf("failed to load parent parcel: %w", err)
		}
		if parent == nil {
			return ErrParcelNotFound.WithDetail("parcelId", parentID)
		}
		if parent.OwnerID != actor.UserID && !s.policy.IsAdmin(actor) {
			return ErrNotParcelOwner
		}
		if parent.Status != models.ParcelVerified {
			return ErrParentNotVerified.WithDetail("parentStatus", parent.Status)
		}

		if err := s.validator.ValidateSubParcel(ctx, tx.Parcels(), parent.ID, parent.Location.Polygon, in.Polygon); err != nil {
			recordGeometryRejection(s.metrics, err)
			return err
		}

		parcel = in.toParcel(parent.OwnerID)
		parcel.IsSubParcel = true
		parcel.ParentID = &parent.ID
		inheritLocation(&parcel.Location, parent.Location)
		return tx.Parcels().Create(ctx, parcel)
	})
	if err != nil {
		s.log.Warn("Sub-parcel creation rejected", map[string]interface{}{
			"parent_id": parentID,
			"owner_id":  actor.UserID,
			"error":     err.Error(),
		})
		return nil, err
	}

	s.log.Info("Sub-parcel created", map[string]interface{}{
		"parcel_id": parcel.ID,
		"parent_id": parentID,
		"area":      parcel.Area,
	})
	return parcel, nil
}

// inheritLocation fills empty address parts from the parent parcel.
func inheritLocation(dst *models.Location, parent models.Location) {
	if dst.Address == "" {
		dst.Address = parent.Address
	}
	if dst.City == "" {
		dst.City = parent.City
	}
	if dst.State == "" {
		dst.State = parent.State
	}
	if dst.Country == "" {
		dst.Country = parent.Country
	}
}

func (s *parcelService) UpdateParcel(ctx context.Context, actor authz.Actor, id string, changes ParcelChanges) (*models.Parcel, error) {
	var parcel *models.Parcel
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		parcel, err = tx.Parcels().GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load parcel: %w", err)
		}
		if parcel == nil {
			return ErrParcelNotFound.WithDetail("parcelId", id)
		}
		if parcel.OwnerID != actor.UserID && !s.policy.IsAdmin(actor) {
			return ErrNotParcelOwner
		}
		if !parcel.Status.Editable() {
			return ErrParcelNotEditable.WithDetail("status", parcel.Status)
		}
		return s.applyParcelChanges(ctx, tx, parcel, changes)
	})
	if err != nil {
		s.log.Warn("Parcel update rejected", map[string]interface{}{
			"parcel_id": id,
			"error":     err.Error(),
		})
		return nil, err
	}

	s.log.Info("Parcel updated", map[string]interface{}{
		"parcel_id": parcel.ID,
	})
	return parcel, nil
}

// applyParcelChanges edits parcel inside tx, re-validating a changed
// boundary against the parent or the active claims.
func (s claimChecker) applyParcelChanges(ctx context.Context, tx repository.Repositories, parcel *models.Parcel, changes ParcelChanges) error {
	if changes.Empty() {
		return nil
	}
	boundaryChanged, err := changes.apply(parcel)
	if err != nil {
		return err
	}
	if boundaryChanged {
		if err := s.validateBoundary(ctx, tx, parcel); err != nil {
			return err
		}
	}
	return tx.Parcels().Update(ctx, parcel)
}

// validateBoundary checks parcel's current polygon as a claim, using the
// containment rules for sub-parcels.
func (s claimChecker) validateBoundary(ctx context.Context, tx repository.Repositories, parcel *models.Parcel) error {
	var err error
	if parcel.IsSubParcel && parcel.ParentID != nil {
		var parent *models.Parcel
		parent, err = tx.Parcels().Get(ctx, *parcel.ParentID)
		if err != nil {
			return fmt.Errorf("failed to load parent parcel: %w", err)
		}
		if parent == nil {
			return ErrParcelNotFound.WithDetail("parcelId", *parcel.ParentID)
		}
		err = s.validator.ValidateSubParcel(ctx, tx.Parcels(), parent.ID, parent.Location.Polygon, parcel.Location.Polygon, parcel.ID)
	} else {
		err = s.validator.ValidateClaim(ctx, tx.Parcels(), parcel.Location.Polygon, parcel.ID)
	}
	if err != nil {
		recordGeometryRejection(s.metrics, err)
	}
	return err
}

func (s *parcelService) GetParcel(ctx context.Context, actor authz.Actor, id string) (*models.Parcel, error) {
	parcel, err := s.store.Parcels().Get(ctx, id)
	if err != nil {
		s.log.Error("Failed to load parcel", err, map[string]interface{}{
			"parcel_id": id,
		})
		return nil, fmt.Errorf("failed to load parcel: %w", err)
	}
	if parcel == nil {
		return nil, ErrParcelNotFound.WithDetail("parcelId", id)
	}

	visible := parcel.OwnerID == actor.UserID ||
		s.policy.IsAdmin(actor) ||
		(parcel.IsPublic && parcel.Status == models.ParcelVerified)
	if !visible {
		// Hidden parcels look missing to other users.
		return nil, ErrParcelNotFound.WithDetail("parcelId", id)
	}
	return parcel, nil
}

func (s *parcelService) validatePoint(lat, lng float64, fields map[string]interface{}) error {
	if lat < MinLatitude || lat > MaxLatitude {
		s.log.Warn("Invalid latitude provided", fields)
		return ErrInvalidCoordinates.Withf("latitude must be between %f and %f, got %f",
			MinLatitude, MaxLatitude, lat)
	}
	if lng < MinLongitude || lng > MaxLongitude {
		s.log.Warn("Invalid longitude provided", fields)
		return ErrInvalidCoordinates.Withf("longitude must be between %f and %f, got %f",
			MinLongitude, MaxLongitude, lng)
	}
	return nil
}

// GetParcelAtPoint retrieves the parcel containing the given point.
// It validates the coordinates, logs the query, and transforms repository
// responses into appropriate business-level errors.
func (s *parcelService) GetParcelAtPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error) {
	fields := map[string]interface{}{
		"lat": lat,
		"lng": lng,
	}
	if err := s.validatePoint(lat, lng, fields); err != nil {
		return nil, err
	}

	s.log.Info("Querying parcel at point", fields)

	parcel, err := s.store.Parcels().FindByPoint(ctx, lat, lng)
	if err != nil {
		s.log.Error("Failed to query parcel at point", err, fields)
		return nil, fmt.Errorf("failed to query parcel: %w", err)
	}

	// Repository returns nil, nil when no parcel found - transform to domain error
	if parcel == nil {
		s.log.Debug("No parcel found at point", fields)
		return nil, ErrParcelNotFound
	}

	s.log.Info("Parcel found at point", map[string]interface{}{
		"lat":       lat,
		"lng":       lng,
		"parcel_id": parcel.ID,
		"owner":     parcel.OwnerName,
	})

	return parcel, nil
}

// GetNearbyParcels retrieves all verified parcels within the specified radius of the given point.
// It validates coordinates and radius, logs the query, and returns results ordered by distance.
func (s *parcelService) GetNearbyParcels(ctx context.Context, lat, lng float64, radiusMeters int) ([]models.ParcelWithDistance, error) {
	fields := map[string]interface{}{
		"lat":    lat,
		"lng":    lng,
		"radius": radiusMeters,
	}
	if err := s.validatePoint(lat, lng, fields); err != nil {
		return nil, err
	}

	if radiusMeters < MinRadiusMeters || radiusMeters > MaxRadiusMeters {
		s.log.Warn("Invalid radius provided", fields)
		return nil, ErrInvalidRadius.WithDetail("radius", radiusMeters)
	}

	s.log.Info("Querying nearby parcels", fields)

	parcels, err := s.store.Parcels().FindNearby(ctx, lat, lng, radiusMeters)
	if err != nil {
		s.log.Error("Failed to query nearby parcels", err, fields)
		return nil, fmt.Errorf("failed to query nearby parcels: %w", err)
	}
	if parcels == nil {
		parcels = []models.ParcelWithDistance{}
	}

	s.log.Info("Nearby parcels found", map[string]interface{}{
		"lat":    lat,
		"lng":    lng,
		"radius": radiusMeters,
		"count":  len(parcels),
	})

	return parcels, nil
}
