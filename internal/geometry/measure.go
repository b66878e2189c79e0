package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// DistanceEpsilonMeters absorbs floating point noise when a distance is
// compared against a threshold.
const DistanceEpsilonMeters = 1e-6

// Centroid returns the arithmetic mean of the outer-ring vertices (closing
// position excluded). For a MultiPolygon the vertices of every outer ring are
// averaged together.
func Centroid(g orb.Geometry) (orb.Point, error) {
	rings, err := outerRings("centroid", g)
	if err != nil {
		return orb.Point{}, err
	}

	var sumLng, sumLat float64
	var n int
	for _, ring := range rings {
		for _, p := range ring[:len(ring)-1] {
			sumLng += p[0]
			sumLat += p[1]
			n++
		}
	}
	return orb.Point{sumLng / float64(n), sumLat / float64(n)}, nil
}

// DistanceMeters returns the haversine distance between two [lng, lat]
// points. Every threshold comparison in the system goes through this
// function.
func DistanceMeters(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// WithinRadius reports whether distance is at most radius, tolerating
// floating point noise.
func WithinRadius(distance, radius float64) bool {
	return distance <= radius+DistanceEpsilonMeters
}

// Perimeter approximates the boundary length in meters as the sum of the
// outer ring lengths.
func Perimeter(g orb.Geometry) (float64, error) {
	rings, err := outerRings("perimeter", g)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, ring := range rings {
		for i := 1; i < len(ring); i++ {
			total += DistanceMeters(ring[i-1], ring[i])
		}
	}
	return total, nil
}
