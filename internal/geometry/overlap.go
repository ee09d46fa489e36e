package geometry

import (
	"context"
	"math"

	"github.com/stwalsh4118/verrify/internal/models"
)

// Candidate is an existing parcel that a new or edited boundary is checked
// against.
type Candidate struct {
	ParcelID   string
	ParcelName string
	OwnerName  string
	Polygon    models.Polygon
}

// Overlap describes one conflicting claim.
type Overlap struct {
	ParcelID       string  `json:"parcelId"`
	ParcelName     string  `json:"parcelName"`
	OwnerName      string  `json:"ownerName"`
	OverlapArea    float64 `json:"overlapArea"`
	OverlapPercent float64 `json:"overlapPercentage"`
}

// CandidateSource finds active claims whose boundaries may intersect a
// polygon. Implementations are expected to use a spatial index; the exact
// area test happens here.
type CandidateSource interface {
	OverlapCandidates(ctx context.Context, polygon models.Polygon, excludeIDs []string) ([]Candidate, error)
}

// IntersectionArea returns the area shared by a and b in square metres.
func IntersectionArea(a, b models.Polygon) float64 {
	if a.IsEmpty() || b.IsEmpty() {
		return 0
	}
	ao, bo := ToOrb(a), ToOrb(b)
	if !ao.Bound().Intersects(bo.Bound()) {
		return 0
	}
	proj := newProjection(ao.Bound().Center())
	return intersectionArea(proj.project(ao), proj.project(bo))
}

// FindOverlaps returns every candidate whose intersection with polygon
// exceeds thresholdPercent of the polygon's area. A threshold of zero
// rejects any positive overlap.
func FindOverlaps(polygon models.Polygon, candidates []Candidate, thresholdPercent float64) []Overlap {
	if polygon.IsEmpty() {
		return nil
	}
	po := ToOrb(polygon)
	bound := po.Bound()
	proj := newProjection(bound.Center())
	ps := proj.project(po)
	own := ps.area()

	var out []Overlap
	for _, c := range candidates {
		if c.Polygon.IsEmpty() {
			continue
		}
		co := ToOrb(c.Polygon)
		if !bound.Intersects(co.Bound()) {
			continue
		}
		area := intersectionArea(ps, proj.project(co))
		if area <= areaEpsilon {
			continue
		}
		var pct float64
		if own > 0 {
			pct = area / own * 100
		}
		if pct <= thresholdPercent {
			continue
		}
		out = append(out, Overlap{
			ParcelID:       c.ParcelID,
			ParcelName:     c.ParcelName,
			OwnerName:      c.OwnerName,
			OverlapArea:    math.Round(area),
			OverlapPercent: round2(pct),
		})
	}
	return out
}

// CheckOverlap returns ErrOverlapDetected carrying every conflict when
// polygon overlaps any candidate beyond the threshold.
func CheckOverlap(polygon models.Polygon, candidates []Candidate, thresholdPercent float64) error {
	overlaps := FindOverlaps(polygon, candidates, thresholdPercent)
	if len(overlaps) == 0 {
		return nil
	}
	return ErrOverlapDetected.
		Withf("parcel overlaps %d existing claim(s)", len(overlaps)).
		WithDetail("overlaps", overlaps)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validator combines shape validation with the overlap check against a
// candidate source.
type Validator struct {
	thresholdPercent float64
}

// NewValidator creates a Validator. Overlaps at or below thresholdPercent of
// the checked polygon's area are tolerated.
func NewValidator(thresholdPercent float64) *Validator {
	if thresholdPercent < 0 {
		thresholdPercent = 0
	}
	return &Validator{thresholdPercent: thresholdPercent}
}

// ValidateClaim checks that polygon is valid and does not overlap an active
// claim other than those listed in excludeIDs.
func (v *Validator) ValidateClaim(ctx context.Context, src CandidateSource, polygon models.Polygon, excludeIDs ...string) error {
	if err := Validate(polygon); err != nil {
		return err
	}
	candidates, err := src.OverlapCandidates(ctx, polygon, excludeIDs)
	if err != nil {
		return err
	}
	return CheckOverlap(polygon, candidates, v.thresholdPercent)
}

// ValidateSubParcel checks validity, containment in parent and overlap with
// claims other than the parent and excludeIDs.
func (v *Validator) ValidateSubParcel(ctx context.Context, src CandidateSource, parentID string, parent, polygon models.Polygon, excludeIDs ...string) error {
	if err := Validate(polygon); err != nil {
		return err
	}
	if err := CheckContainment(parent, polygon); err != nil {
		return err
	}
	candidates, err := src.OverlapCandidates(ctx, polygon, append([]string{parentID}, excludeIDs...))
	if err != nil {
		return err
	}
	return CheckOverlap(polygon, candidates, v.thresholdPercent)
}
