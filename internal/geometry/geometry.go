// Package geometry implements the polygon operations used for field
// boundaries: GeoJSON parsing and validation, centroids, distances, buffering,
// intersection and overlap tests.
//
// Inputs are RFC 7946 Polygon or MultiPolygon geometries in [lng, lat]
// order. Area and length computations run in a local equirectangular frame
// measured in meters, which is accurate at field scale.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Error reports malformed or degenerate geometry. Callers use errors.As to
// tell "unmeasurable" apart from a legitimate zero or false result.
type Error struct {
	Op     string
	Reason string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "invalid geometry: " + e.Reason
	}
	return fmt.Sprintf("%s: invalid geometry: %s", e.Op, e.Reason)
}

func newError(op, format string, args ...any) *Error {
	return &Error{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes a GeoJSON Geometry or Feature and validates it as a field
// boundary. Any geometry type other than Polygon or MultiPolygon is rejected.
func Parse(data []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, newError("parse", "not a JSON object: %v", err)
	}

	var g orb.Geometry
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, newError("parse", "malformed feature: %v", err)
		}
		g = f.Geometry
	case "":
		return nil, newError("parse", "missing geometry type")
	default:
		gj, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, newError("parse", "malformed geometry: %v", err)
		}
		g = gj.Geometry()
	}

	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that g is a usable field boundary: a Polygon or
// MultiPolygon whose rings are closed, carry at least three distinct
// positions, use in-range coordinates and do not cross themselves or each
// other.
func Validate(g orb.Geometry) error {
	if err := validateShape(g); err != nil {
		return err
	}
	return validateTopology(g)
}

// validateShape runs the structural checks of Validate without GEOS.
func validateShape(g orb.Geometry) error {
	switch geom := g.(type) {
	case nil:
		return newError("validate", "geometry is empty")
	case orb.Polygon:
		return validatePolygon(geom, "")
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return newError("validate", "multipolygon has no polygons")
		}
		for i, p := range geom {
			if err := validatePolygon(p, fmt.Sprintf("polygon %d: ", i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return newError("validate", "unsupported geometry type %q, fields require Polygon or MultiPolygon", g.GeoJSONType())
	}
}

func validatePolygon(p orb.Polygon, prefix string) error {
	if len(p) == 0 {
		return newError("validate", "%spolygon has no rings", prefix)
	}
	for i, ring := range p {
		kind := "outer ring"
		if i > 0 {
			kind = fmt.Sprintf("hole %d", i)
		}
		if len(ring) < 4 {
			return newError("validate", "%s%s has %d positions, need at least 4 including closure", prefix, kind, len(ring))
		}
		if !ring.Closed() {
			return newError("validate", "%s%s is not closed, first and last positions differ", prefix, kind)
		}
		for _, pt := range ring {
			if !validCoordinate(pt) {
				return newError("validate", "%s%s has out-of-range coordinate [%v, %v]", prefix, kind, pt[0], pt[1])
			}
		}
		if n := distinctPoints(ring); n < 3 {
			return newError("validate", "%s%s has %d distinct positions, need at least 3", prefix, kind, n)
		}
	}
	return nil
}

func validCoordinate(p orb.Point) bool {
	lng, lat := p[0], p[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

func distinctPoints(ring orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// outerRings returns the exterior ring of every polygon in g.
func outerRings(op string, g orb.Geometry) ([]orb.Ring, error) {
	if err := validateShape(g); err != nil {
		if ge, ok := err.(*Error); ok {
			ge.Op = op
		}
		return nil, err
	}
	switch geom := g.(type) {
	case orb.Polygon:
		return []orb.Ring{geom[0]}, nil
	case orb.MultiPolygon:
		rings := make([]orb.Ring, 0, len(geom))
		for _, p := range geom {
			rings = append(rings, p[0])
		}
		return rings, nil
	}
	return nil, newError(op, "unsupported geometry type")
}
