package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stwalsh4118/verrify/internal/apperr"
	"github.com/stwalsh4118/verrify/internal/models"
)

var (
	ErrInvalidPolygon  = apperr.Validation("INVALID_POLYGON", "polygon is not a valid parcel boundary")
	ErrNotContained    = apperr.Validation("NOT_WITHIN_PARENT", "sub-parcel must lie within its parent parcel")
	ErrOverlapDetected = apperr.Conflict("PARCEL_OVERLAP", "parcel overlaps an existing claim")
)

// Validate checks that p is a simple polygon: closed rings of at least four
// points, coordinates within WGS84 bounds, no self-intersection, non-zero
// area, and holes that lie inside the shell without crossing it or each
// other.
func Validate(p models.Polygon) error {
	if len(p.Coordinates) == 0 {
		return invalid("polygon has no rings")
	}
	for i, r := range p.Coordinates {
		if err := validateRingCoords(i, r); err != nil {
			return err
		}
	}

	poly := ToOrb(p)
	proj := newProjection(poly.Bound().Center())
	s := proj.project(poly)

	for i, r := range s {
		if len(r) < 3 {
			return invalid(fmt.Sprintf("ring %d has fewer than three distinct points", i))
		}
		if nearZero(signedArea(r), ringScale(r)) {
			return invalid(fmt.Sprintf("ring %d has zero area", i))
		}
		if err := checkSimple(i, r); err != nil {
			return err
		}
	}

	shell := shape{s[0]}
	for i := 1; i < len(s); i++ {
		hole := s[i]
		for _, v := range hole {
			if shell.locate(v) == outside {
				return invalid(fmt.Sprintf("hole %d lies outside the shell", i))
			}
		}
		for j := 0; j < i; j++ {
			if ringsCross(hole, s[j]) {
				return invalid(fmt.Sprintf("ring %d crosses ring %d", i, j))
			}
		}
	}
	return nil
}

func validateRingCoords(idx int, r [][2]float64) error {
	if len(r) < 4 {
		return invalid(fmt.Sprintf("ring %d has %d points, need at least 4", idx, len(r)))
	}
	if r[0] != r[len(r)-1] {
		return invalid(fmt.Sprintf("ring %d is not closed", idx))
	}
	for _, c := range r {
		lon, lat := c[0], c[1]
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return invalid(fmt.Sprintf("ring %d has a non-finite coordinate", idx))
		}
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return invalid(fmt.Sprintf("ring %d has coordinate [%v, %v] outside WGS84 bounds", idx, lon, lat))
		}
	}
	return nil
}

func ringScale(r ring) float64 {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range r {
		minX, maxX = math.Min(minX, v.x), math.Max(maxX, v.x)
		minY, maxY = math.Min(minY, v.y), math.Max(maxY, v.y)
	}
	return (maxX - minX) * (maxY - minY)
}

// checkSimple rejects rings whose edges touch anywhere other than at the
// shared vertex of consecutive edges, and spikes that double back on
// themselves.
func checkSimple(idx int, r ring) error {
	n := len(r)
	for i := 0; i < n; i++ {
		a, b := r[i], r[(i+1)%n]
		c := r[(i+2)%n]
		ab, bc := b.sub(a), c.sub(b)
		if nearZero(ab.cross(bc), ab.norm()*bc.norm()) && ab.dot(bc) < 0 {
			return invalid(fmt.Sprintf("ring %d folds back on itself", idx))
		}
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsTouch(a, b, r[j], r[(j+1)%n]) {
				return invalid(fmt.Sprintf("ring %d is self-intersecting", idx))
			}
		}
	}
	return nil
}

func ringsCross(a, b ring) bool {
	for i := range a {
		p, q := a[i], a[(i+1)%len(a)]
		for j := range b {
			if properCross(p, q, b[j], b[(j+1)%len(b)]) {
				return true
			}
		}
	}
	return false
}

func invalid(reason string) error {
	return ErrInvalidPolygon.Withf("invalid polygon: %s", reason).WithDetail("reason", reason)
}

// Area returns the geodesic area of p in square metres.
func Area(p models.Polygon) float64 {
	if p.IsEmpty() {
		return 0
	}
	return math.Abs(geo.Area(ToOrb(p)))
}

// Contains reports whether sub lies entirely within parent. Shared boundary
// segments are allowed.
func Contains(parent, sub models.Polygon) bool {
	if parent.IsEmpty() || sub.IsEmpty() {
		return false
	}
	pp, sp := ToOrb(parent), ToOrb(sub)
	if !boundContains(pp.Bound(), sp.Bound()) {
		return false
	}
	proj := newProjection(pp.Bound().Center())
	ps, ss := proj.project(pp), proj.project(sp)

	ok := true
	pieces(shape{ss[0]}, ps, func(_, _ vec, loc location) {
		if loc == outside {
			ok = false
		}
	})
	if !ok {
		return false
	}
	// A hole of the parent inside the sub-parcel leaves part of it uncovered.
	for _, hole := range ps[1:] {
		for _, v := range hole {
			if ss.locate(v) == inside {
				return false
			}
		}
	}
	return true
}

// CheckContainment returns ErrNotContained when sub is not within parent.
func CheckContainment(parent, sub models.Polygon) error {
	if !Contains(parent, sub) {
		return ErrNotContained
	}
	return nil
}

func boundContains(outer, inner orb.Bound) bool {
	const slack = 1e-9
	return inner.Min.X() >= outer.Min.X()-slack && inner.Min.Y() >= outer.Min.Y()-slack &&
		inner.Max.X() <= outer.Max.X()+slack && inner.Max.Y() <= outer.Max.Y()+slack
}
