package services

import (
	"fmt"
	"math"

	"github.com/irisdrone/parkwatch/models"
)

const minPolygonPoints = 3

// validatePolygon rejects rings that cannot outline a parking space:
// fewer than three points, zero area, or edges that cross each other.
func validatePolygon(p models.Polygon) error {
	if len(p) < minPolygonPoints {
		return fmt.Errorf("%w: need at least %d points, got %d", ErrInvalidGeometry, minPolygonPoints, len(p))
	}
	for i, pt := range p {
		if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsInf(pt.X, 0) || math.IsInf(pt.Y, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidGeometry, i)
		}
	}
	if math.Abs(p.Area()) < 1e-9 {
		return fmt.Errorf("%w: polygon has zero area", ErrInvalidGeometry)
	}

	n := len(p)
	for i := 0; i < n; i++ {
		a1, a2 := p[i], p[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Adjacent edges share a vertex
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := p[j], p[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return fmt.Errorf("%w: edges %d and %d intersect", ErrInvalidGeometry, i, j)
			}
		}
	}
	return nil
}

func orientation(a, b, c models.Point) int {
	v := (b.Y-a.Y)*(c.X-b.X) - (b.X-a.X)*(c.Y-b.Y)
	switch {
	case math.Abs(v) < 1e-12:
		return 0
	case v > 0:
		return 1
	default:
		return 2
	}
}

func onSegment(a, b, c models.Point) bool {
	return b.X <= math.Max(a.X, c.X) && b.X >= math.Min(a.X, c.X) &&
		b.Y <= math.Max(a.Y, c.Y) && b.Y >= math.Min(a.Y, c.Y)
}

func segmentsIntersect(p1, q1, p2, q2 models.Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == 0 && onSegment(p1, q2, q1) {
		return true
	}
	if o3 == 0 && onSegment(p2, p1, q2) {
		return true
	}
	if o4 == 0 && onSegment(p2, q1, q2) {
		return true
	}
	return false
}
