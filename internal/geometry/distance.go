package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stwalsh4118/verrify/internal/models"
)

// ContainsPoint reports whether the lon/lat point lies inside p or on its
// boundary.
func ContainsPoint(p models.Polygon, lng, lat float64) bool {
	if p.IsEmpty() {
		return false
	}
	poly := ToOrb(p)
	pt := orb.Point{lng, lat}
	if !poly.Bound().Pad(1e-12).Contains(pt) {
		return false
	}
	if planar.PolygonContains(poly, pt) {
		return true
	}
	proj := newProjection(pt)
	return proj.project(poly).locate(vec{}) != outside
}

// DistanceTo returns the distance in metres from the lon/lat point to the
// nearest part of p, or 0 when the point is inside.
func DistanceTo(p models.Polygon, lng, lat float64) float64 {
	if p.IsEmpty() {
		return math.Inf(1)
	}
	if ContainsPoint(p, lng, lat) {
		return 0
	}
	proj := newProjection(orb.Point{lng, lat})
	best := math.Inf(1)
	proj.project(ToOrb(p)).edges(func(a, b vec) {
		if d := segmentDistance(vec{}, a, b); d < best {
			best = d
		}
	})
	return best
}

func segmentDistance(p, a, b vec) float64 {
	ab := b.sub(a)
	l2 := ab.dot(ab)
	if l2 == 0 {
		return p.sub(a).norm()
	}
	t := clamp01(p.sub(a).dot(ab) / l2)
	return p.sub(a.add(ab.scale(t))).norm()
}
