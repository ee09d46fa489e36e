// Package geometry validates parcel boundaries: topological validity,
// containment of sub-parcels in their parent, and overlap against other
// active claims. All functions are pure; candidate parcels are supplied by
// the caller.
package geometry

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/stwalsh4118/verrify/internal/models"
)

const (
	earthRadius = 6378137.0 // metres, WGS84 semi-major axis
	relEpsilon  = 1e-9
	// areaEpsilon absorbs floating point noise so that parcels sharing an
	// edge are not reported as overlapping.
	areaEpsilon = 1e-4 // square metres
)

// vec is a point in a local metric plane.
type vec struct{ x, y float64 }

func (a vec) sub(b vec) vec       { return vec{a.x - b.x, a.y - b.y} }
func (a vec) add(b vec) vec       { return vec{a.x + b.x, a.y + b.y} }
func (a vec) scale(f float64) vec { return vec{a.x * f, a.y * f} }
func (a vec) cross(b vec) float64 { return a.x*b.y - a.y*b.x }
func (a vec) dot(b vec) float64   { return a.x*b.x + a.y*b.y }
func (a vec) norm() float64       { return math.Hypot(a.x, a.y) }

type ring []vec

type shape []ring

// projection maps lon/lat degrees onto an equirectangular plane in metres
// centred on a reference point. Parcel-sized shapes are small enough for the
// distortion to be negligible.
type projection struct {
	lon0, lat0, kx, ky float64
}

func newProjection(center orb.Point) projection {
	lat0 := center.Lat() * math.Pi / 180
	return projection{
		lon0: center.Lon(),
		lat0: center.Lat(),
		kx:   earthRadius * math.Pi / 180 * math.Cos(lat0),
		ky:   earthRadius * math.Pi / 180,
	}
}

func (p projection) point(pt orb.Point) vec {
	return vec{(pt.Lon() - p.lon0) * p.kx, (pt.Lat() - p.lat0) * p.ky}
}

// project converts a polygon into a shape whose outer ring is
// counter-clockwise and whose holes are clockwise, with the closing point and
// consecutive duplicates removed.
func (p projection) project(poly orb.Polygon) shape {
	out := make(shape, 0, len(poly))
	for i, r := range poly {
		pr := make(ring, 0, len(r))
		for _, pt := range r {
			v := p.point(pt)
			if len(pr) > 0 && pr[len(pr)-1] == v {
				continue
			}
			pr = append(pr, v)
		}
		if len(pr) > 1 && pr[0] == pr[len(pr)-1] {
			pr = pr[:len(pr)-1]
		}
		wantCCW := i == 0
		if (signedArea(pr) > 0) != wantCCW {
			reverse(pr)
		}
		out = append(out, pr)
	}
	return out
}

func reverse(r ring) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}

func signedArea(r ring) float64 {
	var sum float64
	for i := range r {
		a, b := r[i], r[(i+1)%len(r)]
		sum += a.cross(b)
	}
	return sum / 2
}

func (s shape) area() float64 {
	var total float64
	for _, r := range s {
		total += signedArea(r)
	}
	return total
}

// edges calls fn for every directed edge of every ring.
func (s shape) edges(fn func(a, b vec)) {
	for _, r := range s {
		for i := range r {
			fn(r[i], r[(i+1)%len(r)])
		}
	}
}

func nearZero(v, scale float64) bool {
	return math.Abs(v) <= relEpsilon*scale
}

// onSegment reports whether p lies on segment ab within tolerance.
func onSegment(p, a, b vec) bool {
	ab := b.sub(a)
	ap := p.sub(a)
	l := ab.norm()
	if l == 0 {
		return p.sub(a).norm() <= relEpsilon
	}
	if !nearZero(ab.cross(ap), l*math.Max(ap.norm(), 1)) {
		return false
	}
	t := ap.dot(ab) / (l * l)
	return t >= -relEpsilon && t <= 1+relEpsilon
}

type location int

const (
	outside location = iota
	boundary
	inside
)

// ringContains is an even-odd ray cast; boundary points must be handled by
// the caller.
func ringContains(r ring, p vec) bool {
	in := false
	for i, j := 0, len(r)-1; i < len(r); j, i = i, i+1 {
		a, b := r[i], r[j]
		if (a.y > p.y) != (b.y > p.y) {
			x := (b.x-a.x)*(p.y-a.y)/(b.y-a.y) + a.x
			if p.x < x {
				in = !in
			}
		}
	}
	return in
}

// locate classifies p against a shape with holes.
func (s shape) locate(p vec) location {
	onEdge := false
	s.edges(func(a, b vec) {
		if !onEdge && onSegment(p, a, b) {
			onEdge = true
		}
	})
	if onEdge {
		return boundary
	}
	if len(s) == 0 || !ringContains(s[0], p) {
		return outside
	}
	for _, hole := range s[1:] {
		if ringContains(hole, p) {
			return outside
		}
	}
	return inside
}

// boundaryDirection returns the direction of the edge of s that p lies on.
func (s shape) boundaryDirection(p vec) (vec, bool) {
	var dir vec
	found := false
	s.edges(func(a, b vec) {
		if !found && onSegment(p, a, b) {
			dir = b.sub(a)
			found = true
		}
	})
	return dir, found
}

// splitParams returns the sorted parameters in [0,1] at which segment pq
// meets the boundary of s, always including both ends.
func (s shape) splitParams(p, q vec) []float64 {
	d := q.sub(p)
	dl := d.norm()
	ts := []float64{0, 1}
	if dl == 0 {
		return ts
	}
	s.edges(func(r, t vec) {
		g := t.sub(r)
		gl := g.norm()
		if gl == 0 {
			return
		}
		denom := d.cross(g)
		rp := r.sub(p)
		if !nearZero(denom, dl*gl) {
			tt := rp.cross(g) / denom
			u := rp.cross(d) / denom
			if tt > -relEpsilon && tt < 1+relEpsilon && u > -relEpsilon && u < 1+relEpsilon {
				ts = append(ts, clamp01(tt))
			}
			return
		}
		// Parallel: only collinear edges contribute their endpoints.
		if !nearZero(rp.cross(d), dl*math.Max(rp.norm(), 1)) {
			return
		}
		for _, e := range []vec{r, t} {
			tt := e.sub(p).dot(d) / (dl * dl)
			if tt > 0 && tt < 1 {
				ts = append(ts, tt)
			}
		}
	})
	sort.Float64s(ts)
	out := ts[:1]
	for _, t := range ts[1:] {
		if t-out[len(out)-1] > relEpsilon {
			out = append(out, t)
		}
	}
	if out[len(out)-1] != 1 {
		out[len(out)-1] = 1
	}
	return out
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

// pieces splits every edge of a at the boundary of b and calls fn with each
// sub-segment and the location of its midpoint relative to b.
func pieces(a, b shape, fn func(p, q vec, loc location)) {
	a.edges(func(p, q vec) {
		ts := b.splitParams(p, q)
		d := q.sub(p)
		for i := 0; i+1 < len(ts); i++ {
			s := p.add(d.scale(ts[i]))
			e := p.add(d.scale(ts[i+1]))
			mid := s.add(e).scale(0.5)
			fn(s, e, b.locate(mid))
		}
	})
}

// intersectionArea integrates the boundary of a∩b with Green's theorem: the
// parts of a's edges inside b plus the parts of b's edges inside a. Shared
// edges count once when both shapes run the same way along them and not at
// all when they run opposite ways.
func intersectionArea(a, b shape) float64 {
	var sum float64
	pieces(a, b, func(p, q vec, loc location) {
		switch loc {
		case inside:
			sum += p.cross(q)
		case boundary:
			mid := p.add(q).scale(0.5)
			if dir, ok := b.boundaryDirection(mid); ok && dir.dot(q.sub(p)) > 0 {
				sum += p.cross(q)
			}
		}
	})
	pieces(b, a, func(p, q vec, loc location) {
		if loc == inside {
			sum += p.cross(q)
		}
	})
	area := sum / 2
	if area < 0 {
		return 0
	}
	return area
}

// properCross reports whether segments ab and cd cross at a single point
// interior to both.
func properCross(a, b, c, d vec) bool {
	ab, cd := b.sub(a), d.sub(c)
	scaleAB := ab.norm()
	scaleCD := cd.norm()
	o1 := ab.cross(c.sub(a))
	o2 := ab.cross(d.sub(a))
	o3 := cd.cross(a.sub(c))
	o4 := cd.cross(b.sub(c))
	if nearZero(o1, scaleAB*c.sub(a).norm()) || nearZero(o2, scaleAB*d.sub(a).norm()) ||
		nearZero(o3, scaleCD*a.sub(c).norm()) || nearZero(o4, scaleCD*b.sub(c).norm()) {
		return false
	}
	return (o1 > 0) != (o2 > 0) && (o3 > 0) != (o4 > 0)
}

// segmentsTouch reports whether segments ab and cd share any point.
func segmentsTouch(a, b, c, d vec) bool {
	if properCross(a, b, c, d) {
		return true
	}
	return onSegment(c, a, b) || onSegment(d, a, b) || onSegment(a, c, d) || onSegment(b, c, d)
}

// ToOrb converts a stored polygon into an orb polygon.
func ToOrb(p models.Polygon) orb.Polygon {
	return p.Orb()
}
