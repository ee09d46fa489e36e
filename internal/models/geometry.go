package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultSRID is WGS84, the only reference system parcels are stored in.
const DefaultSRID = 4326

// Polygon is a parcel boundary as GeoJSON coordinates, [rings][points][lon,lat].
// The first ring is the shell; any further rings are holes. It travels as a
// GeoJSON geometry both over the API and to PostGIS, where queries wrap it in
// ST_GeomFromGeoJSON and read it back through ST_AsGeoJSON.
type Polygon struct {
	Coordinates [][][2]float64
	SRID        int
}

// IsEmpty reports whether the polygon has no rings.
func (p Polygon) IsEmpty() bool {
	return len(p.Coordinates) == 0
}

// Orb converts p to an orb polygon.
func (p Polygon) Orb() orb.Polygon {
	poly := make(orb.Polygon, 0, len(p.Coordinates))
	for _, r := range p.Coordinates {
		ring := make(orb.Ring, 0, len(r))
		for _, c := range r {
			ring = append(ring, orb.Point{c[0], c[1]})
		}
		poly = append(poly, ring)
	}
	return poly
}

// PolygonFromOrb converts an orb polygon into a WGS84 Polygon.
func PolygonFromOrb(poly orb.Polygon) Polygon {
	coords := make([][][2]float64, 0, len(poly))
	for _, r := range poly {
		ring := make([][2]float64, 0, len(r))
		for _, pt := range r {
			ring = append(ring, [2]float64{pt[0], pt[1]})
		}
		coords = append(coords, ring)
	}
	return Polygon{Coordinates: coords, SRID: DefaultSRID}
}

func decodePolygon(raw []byte) (Polygon, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return Polygon{}, fmt.Errorf("invalid polygon geometry: %w", err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return Polygon{}, fmt.Errorf("expected Polygon geometry, got %s", g.Type)
	}
	return PolygonFromOrb(poly), nil
}

// GeoJSON returns the polygon encoded as a GeoJSON geometry string.
func (p Polygon) GeoJSON() (string, error) {
	data, err := geojson.NewGeometry(p.Orb()).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode polygon: %w", err)
	}
	return string(data), nil
}

// Scan reads the GeoJSON produced by ST_AsGeoJSON.
func (p *Polygon) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Polygon", value)
	}

	decoded, err := decodePolygon(raw)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Value writes the polygon as GeoJSON text, or NULL when empty.
func (p Polygon) Value() (driver.Value, error) {
	if p.IsEmpty() {
		return nil, nil
	}
	return p.GeoJSON()
}

// MarshalJSON renders a GeoJSON Polygon, or null when there are no rings.
func (p Polygon) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(p.Orb()).MarshalJSON()
}

// UnmarshalJSON accepts a GeoJSON Polygon geometry or null.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	decoded, err := decodePolygon(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
