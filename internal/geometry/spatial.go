package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"github.com/twpayne/go-geos"
)

// bufferQuadSegs is the number of segments per quarter circle used when
// rounding buffered corners.
const bufferQuadSegs = 8

// frame is a local equirectangular projection centred on an origin. Both
// sides of a pairwise operation must share the same frame so that shared
// edges map to identical coordinates.
type frame struct {
	origin orb.Point
	cosLat float64
}

func newFrame(origin orb.Point) frame {
	return frame{origin: origin, cosLat: math.Cos(origin[1] * math.Pi / 180)}
}

func (f frame) toMeters(p orb.Point) orb.Point {
	k := orb.EarthRadius * math.Pi / 180
	return orb.Point{(p[0] - f.origin[0]) * k * f.cosLat, (p[1] - f.origin[1]) * k}
}

func (f frame) toLngLat(p orb.Point) orb.Point {
	k := orb.EarthRadius * math.Pi / 180
	return orb.Point{p[0]/(k*f.cosLat) + f.origin[0], p[1]/k + f.origin[1]}
}

// geom converts a lng/lat geometry into a GEOS geometry in frame meters.
func (f frame) geom(g orb.Geometry) (*geos.Geom, error) {
	projected := project.Geometry(orb.Clone(g), f.toMeters)
	data, err := json.Marshal(geojson.NewGeometry(projected))
	if err != nil {
		return nil, fmt.Errorf("encoding geometry: %w", err)
	}
	return geos.NewGeomFromGeoJSON(string(data))
}

// lngLat converts a GEOS geometry in frame meters back to lng/lat.
func (f frame) lngLat(g *geos.Geom) (orb.Geometry, error) {
	gj, err := geojson.UnmarshalGeometry([]byte(g.ToGeoJSON(-1)))
	if err != nil {
		return nil, fmt.Errorf("decoding geos output: %w", err)
	}
	return project.Geometry(gj.Geometry(), f.toLngLat), nil
}

// guard converts a GEOS panic into an error.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: geos: %v", op, r)
		}
	}()
	return fn()
}

// pair prepares two geometries in a shared frame after validating both.
func pair(op string, a, b orb.Geometry) (*geos.Geom, *geos.Geom, error) {
	origin, err := Centroid(a)
	if err != nil {
		return nil, nil, relabel(op, err)
	}
	if err := Validate(b); err != nil {
		return nil, nil, relabel(op, err)
	}

	f := newFrame(origin)
	ga, err := f.geom(a)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	gb, err := f.geom(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	err = guard(op, func() error {
		if !ga.IsValid() {
			return newError(op, "first geometry is not simple: %s", ga.IsValidReason())
		}
		if !gb.IsValid() {
			return newError(op, "second geometry is not simple: %s", gb.IsValidReason())
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ga, gb, nil
}

// validateTopology rejects self-intersecting rings, holes outside their
// shell and other shapes GEOS reports as invalid.
func validateTopology(g orb.Geometry) error {
	data, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return newError("validate", "encoding geometry: %v", err)
	}
	return guard("validate", func() error {
		gg, err := geos.NewGeomFromGeoJSON(string(data))
		if err != nil {
			return newError("validate", "%v", err)
		}
		if !gg.IsValid() {
			return newError("validate", "not simple: %s", gg.IsValidReason())
		}
		return nil
	})
}

func relabel(op string, err error) error {
	if ge, ok := err.(*Error); ok {
		return &Error{Op: op, Reason: ge.Reason}
	}
	return err
}

// Intersects reports whether a and b share any point, including touching
// boundaries.
func Intersects(a, b orb.Geometry) (bool, error) {
	ga, gb, err := pair("intersects", a, b)
	if err != nil {
		return false, err
	}
	var out bool
	err = guard("intersects", func() error {
		out = ga.Intersects(gb)
		return nil
	})
	return out, err
}

// Overlaps reports whether a and b conflict as field boundaries: their
// interiors overlap, or one lies entirely within the other. Polygons that
// only share an edge or a vertex do not overlap.
func Overlaps(a, b orb.Geometry) (bool, error) {
	ga, gb, err := pair("overlaps", a, b)
	if err != nil {
		return false, err
	}
	var out bool
	err = guard("overlaps", func() error {
		out = ga.Overlaps(gb) || ga.Contains(gb) || ga.Within(gb)
		return nil
	})
	return out, err
}

// BoundaryIntersectionLength returns the length in meters of b's boundary
// that lies on a's boundary or inside a.
func BoundaryIntersectionLength(a, b orb.Geometry) (float64, error) {
	ga, gb, err := pair("boundary intersection", a, b)
	if err != nil {
		return 0, err
	}
	return boundaryLength(ga, gb)
}

func boundaryLength(area, other *geos.Geom) (float64, error) {
	var length float64
	err := guard("boundary intersection", func() error {
		length = area.Intersection(other.Boundary()).Length()
		return nil
	})
	return length, err
}

// BufferMeters dilates g outward by distance meters.
func BufferMeters(g orb.Geometry, distance float64) (orb.Geometry, error) {
	origin, err := Centroid(g)
	if err != nil {
		return nil, relabel("buffer", err)
	}
	if distance < 0 || math.IsNaN(distance) {
		return nil, newError("buffer", "distance must be a non-negative number, got %v", distance)
	}

	f := newFrame(origin)
	gg, err := f.geom(g)
	if err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}

	var out orb.Geometry
	err = guard("buffer", func() error {
		buffered := gg.Buffer(distance, bufferQuadSegs)
		var convErr error
		out, convErr = f.lngLat(buffered)
		return convErr
	})
	return out, err
}

// Prepared holds a field boundary buffered by a tolerance, ready to be tested
// against many candidates. The proximity engine builds one per recompute.
type Prepared struct {
	source    orb.Geometry
	frame     frame
	buffered  *geos.Geom
	tolerance float64
}

// Prepare buffers g by toleranceMeters in a frame centred on its centroid.
func Prepare(g orb.Geometry, toleranceMeters float64) (*Prepared, error) {
	origin, err := Centroid(g)
	if err != nil {
		return nil, relabel("prepare", err)
	}
	f := newFrame(origin)
	gg, err := f.geom(g)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	p := &Prepared{source: g, frame: f, tolerance: toleranceMeters}
	err = guard("prepare", func() error {
		if !gg.IsValid() {
			return newError("prepare", "geometry is not simple: %s", gg.IsValidReason())
		}
		p.buffered = gg.Buffer(toleranceMeters, bufferQuadSegs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Source returns the unbuffered geometry.
func (p *Prepared) Source() orb.Geometry { return p.source }

func (p *Prepared) candidate(op string, other orb.Geometry) (*geos.Geom, error) {
	if err := Validate(other); err != nil {
		return nil, relabel(op, err)
	}
	g, err := p.frame.geom(other)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

// Intersects reports whether other touches the buffered boundary.
func (p *Prepared) Intersects(other orb.Geometry) (bool, error) {
	g, err := p.candidate("buffered intersects", other)
	if err != nil {
		return false, err
	}
	var out bool
	err = guard("buffered intersects", func() error {
		out = p.buffered.Intersects(g)
		return nil
	})
	return out, err
}

// SharedBoundaryLength returns how many meters of other's boundary run within
// the tolerance band around the prepared field.
func (p *Prepared) SharedBoundaryLength(other orb.Geometry) (float64, error) {
	g, err := p.candidate("shared boundary", other)
	if err != nil {
		return 0, err
	}
	return boundaryLength(p.buffered, g)
}
