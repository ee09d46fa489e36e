package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/stwalsh4118/verrify/internal/geometry"
	"github.com/stwalsh4118/verrify/internal/models"
)

// Maximum number of parcels to return from nearby query
const maxNearbyResults = 20

// claimLockKey is the advisory lock key taken while a parcel is re-validated
// and promoted to VERIFIED.
const claimLockKey int64 = 0x5665_7272_6966_79 // "Verrify"

var parcelColumns = []string{
	"p.id",
	"p.pin",
	"p.name",
	"p.description",
	"p.parcel_type",
	"p.status",
	"p.is_sub_parcel",
	"p.parent_id",
	"p.owner_id",
	"COALESCE(NULLIF(TRIM(COALESCE(u.first_name, '') || ' ' || COALESCE(u.last_name, '')), ''), u.email, '') AS owner_name",
	"p.is_public",
	"p.area",
	"COALESCE(l.address, '') AS address",
	"COALESCE(l.city, '') AS city",
	"COALESCE(l.state, '') AS state",
	"COALESCE(l.country, '') AS country",
	"ST_AsGeoJSON(l.polygon) AS polygon",
	"p.created_at",
	"p.updated_at",
}

type parcelRow struct {
	ID          string    `db:"id"`
	PIN         *string   `db:"pin"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	ParcelType  string    `db:"parcel_type"`
	Status      string    `db:"status"`
	IsSubParcel bool      `db:"is_sub_parcel"`
	ParentID    *string   `db:"parent_id"`
	OwnerID     string    `db:"owner_id"`
	OwnerName   string    `db:"owner_name"`
	IsPublic    bool      `db:"is_public"`
	Area        float64   `db:"area"`
	Address     string    `db:"address"`
	City        string    `db:"city"`
	State       string    `db:"state"`
	Country     string    `db:"country"`
	Polygon     *string   `db:"polygon"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type parcelDistanceRow struct {
	parcelRow
	Distance float64 `db:"distance_meters"`
}

func (r parcelRow) toModel() (*models.Parcel, error) {
	p := &models.Parcel{
		ID:          r.ID,
		PIN:         r.PIN,
		Name:        r.Name,
		Description: r.Description,
		Type:        models.ParcelType(r.ParcelType),
		Status:      models.ParcelStatus(r.Status),
		IsSubParcel: r.IsSubParcel,
		ParentID:    r.ParentID,
		OwnerID:     r.OwnerID,
		OwnerName:   r.OwnerName,
		IsPublic:    r.IsPublic,
		Area:        r.Area,
		Location: models.Location{
			Address: r.Address,
			City:    r.City,
			State:   r.State,
			Country: r.Country,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Polygon != nil {
		if err := p.Location.Polygon.Scan(*r.Polygon); err != nil {
			return nil, fmt.Errorf("failed to parse geometry for parcel %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func parcelSelect() sq.SelectBuilder {
	return psql().Select(parcelColumns...).
		From("parcels p").
		LeftJoin("parcel_locations l ON l.parcel_id = p.id").
		LeftJoin("users u ON u.id = p.owner_id")
}

// polygonExpr renders a polygon as a PostGIS geometry argument, or NULL.
func polygonExpr(p models.Polygon) (sq.Sqlizer, error) {
	if p.IsEmpty() {
		return sq.Expr("NULL"), nil
	}
	gj, err := p.GeoJSON()
	if err != nil {
		return nil, err
	}
	return sq.Expr("ST_SetSRID(ST_GeomFromGeoJSON(?), 4326)", gj), nil
}

// parcelRepository is the PostgreSQL implementation of ParcelRepository.
type parcelRepository struct {
	q querier
}

func (r *parcelRepository) Get(ctx context.Context, id string) (*models.Parcel, error) {
	query, args, err := parcelSelect().Where(sq.Eq{"p.id": id}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build parcel query: %w", err)
	}

	var row parcelRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query parcel %s: %w", id, err)
	}
	return row.toModel()
}

func (r *parcelRepository) GetForUpdate(ctx context.Context, id string) (*models.Parcel, error) {
	var locked string
	err := pgxscan.Get(ctx, r.q, &locked, "SELECT id FROM parcels WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock parcel %s: %w", id, err)
	}
	return r.Get(ctx, id)
}

func (r *parcelRepository) Create(ctx context.Context, p *models.Parcel) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	query, args, err := psql().Insert("parcels").
		Columns("id", "pin", "name", "description", "parcel_type", "status", "is_sub_parcel",
			"parent_id", "owner_id", "is_public", "area", "created_at", "updated_at").
		Values(p.ID, p.PIN, p.Name, p.Description, string(p.Type), string(p.Status), p.IsSubParcel,
			p.ParentID, p.OwnerID, p.IsPublic, p.Area, p.CreatedAt, p.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build parcel insert: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to insert parcel")
	}

	geom, err := polygonExpr(p.Location.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode parcel polygon: %w", err)
	}
	query, args, err = psql().Insert("parcel_locations").
		Columns("parcel_id", "address", "city", "state", "country", "polygon").
		Values(p.ID, p.Location.Address, p.Location.City, p.Location.State, p.Location.Country, geom).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build location insert: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to insert parcel location")
	}
	return nil
}

func (r *parcelRepository) Update(ctx context.Context, p *models.Parcel) error {
	p.UpdatedAt = time.Now().UTC()

	query, args, err := psql().Update("parcels").
		Set("pin", p.PIN).
		Set("name", p.Name).
		Set("description", p.Description).
		Set("parcel_type", string(p.Type)).
		Set("status", string(p.Status)).
		Set("is_sub_parcel", p.IsSubParcel).
		Set("parent_id", p.ParentID).
		Set("is_public", p.IsPublic).
		Set("area", p.Area).
		Set("updated_at", p.UpdatedAt).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build parcel update: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return mapWriteError(err, "failed to update parcel")
	}

	geom, err := polygonExpr(p.Location.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode parcel polygon: %w", err)
	}
	query, args, err = psql().Update("parcel_locations").
		Set("address", p.Location.Address).
		Set("city", p.Location.City).
		Set("state", p.Location.State).
		Set("country", p.Location.Country).
		Set("polygon", geom).
		Where(sq.Eq{"parcel_id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build location update: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update parcel location: %w", err)
	}
	return nil
}

func (r *parcelRepository) PINExists(ctx context.Context, pin string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM parcels WHERE pin = $1)", pin).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pin: %w", err)
	}
	return exists, nil
}

// OverlapCandidates uses the GIST index on parcel_locations.polygon to find
// active claims whose boundary touches polygon. The exact overlap area is
// computed by the caller.
func (r *parcelRepository) OverlapCandidates(ctx context.Context, polygon models.Polygon, excludeIDs []string) ([]geometry.Candidate, error) {
	gj, err := polygon.GeoJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidate polygon: %w", err)
	}

	statuses := make([]string, 0, len(models.ActiveClaimStatuses))
	for _, s := range models.ActiveClaimStatuses {
		statuses = append(statuses, string(s))
	}

	builder := parcelSelect().
		Where(sq.Eq{"p.status": statuses}).
		Where("l.polygon IS NOT NULL").
		Where(sq.Expr("ST_Intersects(l.polygon, ST_SetSRID(ST_GeomFromGeoJSON(?), 4326))", gj))
	if len(excludeIDs) > 0 {
		builder = builder.Where(sq.NotEq{"p.id": excludeIDs})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build overlap query: %w", err)
	}

	var rows []parcelRow
	if err := pgxscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query overlap candidates: %w", err)
	}

	out := make([]geometry.Candidate, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, geometry.Candidate{
			ParcelID:   p.ID,
			ParcelName: p.Name,
			OwnerName:  p.OwnerName,
			Polygon:    p.Location.Polygon,
		})
	}
	return out, nil
}

func (r *parcelRepository) LockClaims(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", claimLockKey); err != nil {
		return fmt.Errorf("failed to take claim lock: %w", err)
	}
	return nil
}

// FindByPoint queries the database for a verified parcel that contains the
// given point. It uses PostGIS ST_Contains and the spatial index.
//
// Note: PostGIS functions expect (longitude, latitude) order, not (lat, lng).
func (r *parcelRepository) FindByPoint(ctx context.Context, lat, lng float64) (*models.Parcel, error) {
	query, args, err := parcelSelect().
		Where(sq.Eq{"p.status": string(models.ParcelVerified)}).
		Where(sq.Expr("ST_Contains(l.polygon, ST_SetSRID(ST_MakePoint(?, ?), 4326))", lng, lat)).
		OrderBy("p.is_sub_parcel DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build point query: %w", err)
	}

	var row parcelRow
	if err := pgxscan.Get(ctx, r.q, &row, query, args...); err != nil {
		// No parcel at this point is not an error at the repository level
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query parcel at point (lat=%f, lng=%f): %w", lat, lng, err)
	}
	return row.toModel()
}

// FindNearby queries the database for verified parcels within the specified
// radius of the given point. It uses PostGIS ST_DWithin with geography
// casting for distances in meters. Results are ordered by distance.
//
// Note: PostGIS functions expect (longitude, latitude) order, not (lat, lng).
func (r *parcelRepository) FindNearby(ctx context.Context, lat, lng float64, radiusMeters int) ([]models.ParcelWithDistance, error) {
	query, args, err := parcelSelect().
		Column(sq.Expr("ST_Distance(l.polygon::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) AS distance_meters", lng, lat)).
		Where(sq.Eq{"p.status": string(models.ParcelVerified)}).
		Where(sq.Expr("ST_DWithin(l.polygon::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)", lng, lat, radiusMeters)).
		OrderBy("distance_meters").
		Limit(maxNearbyResults).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build nearby query: %w", err)
	}

	var rows []parcelDistanceRow
	if err := pgxscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query nearby parcels (lat=%f, lng=%f, radius=%d): %w",
			lat, lng, radiusMeters, err)
	}

	results := make([]models.ParcelWithDistance, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		results = append(results, models.ParcelWithDistance{Parcel: *p, Distance: row.Distance})
	}
	return results, nil
}
