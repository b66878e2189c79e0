package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minSharedVertices is the number of coincident vertices from which two
// boundaries are considered to trace the same area.
const minSharedVertices = 3

// HeuristicOverlap is the coordinate-proximity fallback used when the exact
// overlap test fails. It flags a conflict when the boundaries share at least
// three vertices within toleranceDegrees, or when a vertex of either polygon
// lies strictly inside the other. Two fields sharing a single edge share two
// vertices and are not flagged.
func HeuristicOverlap(a, b orb.Geometry, toleranceDegrees float64) (bool, error) {
	if err := validateShape(a); err != nil {
		return false, relabel("heuristic overlap", err)
	}
	if err := validateShape(b); err != nil {
		return false, relabel("heuristic overlap", err)
	}

	va, vb := vertices(a), vertices(b)
	if SharedVertices(va, vb, toleranceDegrees) >= minSharedVertices {
		return true, nil
	}
	if anyStrictlyInside(va, b, toleranceDegrees) || anyStrictlyInside(vb, a, toleranceDegrees) {
		return true, nil
	}
	return false, nil
}

// SharedVertices counts the distinct vertices of a that have a counterpart in
// b within tolerance degrees on both axes.
func SharedVertices(a, b []orb.Point, tolerance float64) int {
	var n int
	for _, p := range a {
		for _, q := range b {
			if math.Abs(p[0]-q[0]) <= tolerance && math.Abs(p[1]-q[1]) <= tolerance {
				n++
				break
			}
		}
	}
	return n
}

// anyStrictlyInside reports whether a point lies inside g and is not within
// tolerance of one of g's vertices.
func anyStrictlyInside(points []orb.Point, g orb.Geometry, tolerance float64) bool {
	gv := vertices(g)
	for _, p := range points {
		if !contains(g, p) {
			continue
		}
		if SharedVertices([]orb.Point{p}, gv, tolerance) == 0 && !onBoundary(g, p, tolerance) {
			return true
		}
	}
	return false
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	}
	return false
}

// onBoundary reports whether p lies within tolerance of any ring segment.
func onBoundary(g orb.Geometry, p orb.Point, tolerance float64) bool {
	for _, ring := range rings(g) {
		for i := 1; i < len(ring); i++ {
			if segmentDistance(p, ring[i-1], ring[i]) <= tolerance {
				return true
			}
		}
	}
	return false
}

func segmentDistance(p, a, b orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := a[0]+t*dx, a[1]+t*dy
	return math.Hypot(p[0]-cx, p[1]-cy)
}

func rings(g orb.Geometry) []orb.Ring {
	switch geom := g.(type) {
	case orb.Polygon:
		return geom
	case orb.MultiPolygon:
		var out []orb.Ring
		for _, p := range geom {
			out = append(out, p...)
		}
		return out
	}
	return nil
}

// vertices returns the distinct ring vertices of g, closing positions
// dropped.
func vertices(g orb.Geometry) []orb.Point {
	seen := map[orb.Point]struct{}{}
	var out []orb.Point
	for _, ring := range rings(g) {
		for _, p := range ring[:len(ring)-1] {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
