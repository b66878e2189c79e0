// Package tiles renders a viewer's projected fields as Mapbox Vector Tiles.
//
// Tiles are built from service.FieldView values only, never from stored
// fields, so a restricted feature carries exactly what its view carries:
// the boundary, the id, the placeholder name and crop, and the access level.
package tiles

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-fields/internal/service"
)

// LayerName is the single MVT layer every tile contains.
const LayerName = "fields"

// MaxZoom is the deepest zoom level served.
const MaxZoom = 22

// ContentType is the media type of an encoded tile.
const ContentType = "application/vnd.mapbox-vector-tile"

// Parse validates z/x/y and returns the tile.
func Parse(z, x, y int) (maptile.Tile, error) {
	if z < 0 || z > MaxZoom {
		return maptile.Tile{}, fmt.Errorf("zoom %d out of range 0-%d", z, MaxZoom)
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return maptile.Tile{}, fmt.Errorf("tile %d/%d/%d out of range", z, x, y)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

// Encode renders the views that intersect tile into an MVT. A tile with no
// features encodes to an empty layer.
func Encode(tile maptile.Tile, views []service.FieldView) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	bound := tile.Bound()

	for i := range views {
		v := &views[i]
		if v.Geometry == nil {
			continue
		}
		g := v.Geometry.Geometry()
		if g == nil || !intersectsTile(g, bound) {
			continue
		}
		// Clip and ProjectToTile rewrite coordinates in place.
		f := geojson.NewFeature(orb.Clone(g))
		f.Properties = properties(v)
		fc.Append(f)
	}

	layer := mvt.NewLayer(LayerName, fc)
	if eps := simplifyEpsilon(tile.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)

	data, err := mvt.Marshal(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encoding tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, err)
	}
	return data, nil
}

// properties copies the attributes present on the view.
func properties(v *service.FieldView) geojson.Properties {
	p := geojson.Properties{
		"id":           v.ID,
		"name":         v.Name,
		"crop":         v.Crop,
		"access_level": string(v.AccessLevel),
	}
	if v.Season != nil {
		p["season"] = *v.Season
	}
	if v.Status != nil {
		p["status"] = string(*v.Status)
	}
	if v.Acres != nil {
		p["acres"] = *v.Acres
	}
	if v.Variety != nil {
		p["variety"] = *v.Variety
	}
	return p
}

// intersectsTile rejects on bounds first, then looks for a polygon vertex
// inside the tile or a tile corner or center inside the polygon.
func intersectsTile(g orb.Geometry, bound orb.Bound) bool {
	if !g.Bound().Intersects(bound) {
		return false
	}

	switch geom := g.(type) {
	case orb.Polygon:
		for _, ring := range geom {
			for _, p := range ring {
				if bound.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			bound.Min,
			{bound.Max[0], bound.Min[1]},
			bound.Max,
			{bound.Min[0], bound.Max[1]},
			bound.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(geom, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range geom {
			if intersectsTile(poly, bound) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// simplifyEpsilon returns the Douglas-Peucker tolerance in degrees for a zoom
// level. Field boundaries are small, so nothing is simplified past z12.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 12:
		return 0
	case zoom >= 8:
		return 0.00001
	case zoom >= 4:
		return 0.0001
	default:
		return 0.001
	}
}
