package lanefinder

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"
)

// offsetSamples is the number of points along each perpendicular segment.
const offsetSamples = 10

// Side picks which side of a base curve an offset curve lies on.
type Side int

const (
	// SideLeft offsets toward smaller x.
	SideLeft Side = -1
	// SideRight offsets toward larger x.
	SideRight Side = 1
)

// OffsetCurve returns one point per consecutive pair of base, displaced
// distance pixels along the perpendicular at the second point of the pair.
// The result has len(base)-1 points, or none for fewer than 2 base points.
func OffsetCurve(base []RectifiedPoint, distance float64, side Side) []RectifiedPoint {
	segments := offset(base, distance, side, true)
	out := make([]RectifiedPoint, len(segments))
	for i, s := range segments {
		out[i] = s[0]
	}
	return out
}

// OffsetSegments is like OffsetCurve but returns the full perpendicular
// construction: offsetSamples points from the base point out to distance.
func OffsetSegments(base []RectifiedPoint, distance float64, side Side) [][]RectifiedPoint {
	return offset(base, distance, side, false)
}

func offset(base []RectifiedPoint, distance float64, side Side, endpointOnly bool) [][]RectifiedPoint {
	if len(base) < 2 {
		return nil
	}

	steps := make([]float64, offsetSamples)
	floats.Span(steps, 0, distance)

	out := make([][]RectifiedPoint, 0, len(base)-1)
	normal := r2.Point{X: 1}
	for i := 0; i+1 < len(base); i++ {
		p0, p1 := r2.Point(base[i]), r2.Point(base[i+1])
		// repeated points have no direction; keep the previous normal
		if n, ok := segmentNormal(p0, p1); ok {
			normal = n
		}
		dir := normal.Mul(float64(side))

		if endpointOnly {
			out = append(out, []RectifiedPoint{RectifiedPoint(p1.Add(dir.Mul(distance)))})
			continue
		}
		seg := make([]RectifiedPoint, len(steps))
		for k, t := range steps {
			seg[k] = RectifiedPoint(p1.Add(dir.Mul(t)))
		}
		out = append(out, seg)
	}
	return out
}

// segmentNormal returns the unit perpendicular of p0->p1, oriented so its x
// component is non-negative. A vertical tangent (dx == 0) gives a horizontal
// normal; a horizontal tangent gives the normal pointing to smaller y.
func segmentNormal(p0, p1 r2.Point) (r2.Point, bool) {
	d := p1.Sub(p0)
	switch {
	case d.X == 0 && d.Y == 0:
		return r2.Point{}, false
	case d.X == 0:
		return r2.Point{X: 1}, true
	case d.Y == 0:
		return r2.Point{Y: -1}, true
	}
	// slope m1 = dy/dx, perpendicular m2 = -1/m1, i.e. direction (1, m2)
	n := r2.Point{X: 1, Y: -d.X / d.Y}.Normalize()
	return n, true
}
