package tiles

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-fields/internal/service"
)

func box(center orb.Point, half float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{center[0] - half, center[1] - half},
		{center[0] + half, center[1] - half},
		{center[0] + half, center[1] + half},
		{center[0] - half, center[1] + half},
		{center[0] - half, center[1] - half},
	}}
}

func field(id string, g orb.Geometry) *service.Field {
	return &service.Field{
		ID:        id,
		UserID:    "owner",
		Name:      "Home " + id,
		Geometry:  geojson.NewGeometry(g),
		Crop:      "corn",
		Variety:   "P1197",
		Season:    "2026",
		Status:    service.StatusGrowing,
		Acres:     160,
		Notes:     "private",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func decode(t *testing.T, data []byte) *mvt.Layer {
	t.Helper()
	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, LayerName, layers[0].Name)
	return layers[0]
}

func TestEncode_PropertiesComeFromTheView(t *testing.T) {
	tile := maptile.At(orb.Point{-93.6, 42.0}, 14)
	center := tile.Center()

	restricted := service.ProjectAs(field("r", box(center, 0.001)), service.AccessRestricted)
	approved := service.ProjectAs(field("a", box(orb.Point{center[0] + 0.004, center[1]}, 0.001)), service.AccessApproved)
	elsewhere := service.ProjectAs(field("x", box(orb.Point{10, 50}, 0.001)), service.AccessOwner)

	layer := decode(t, mustEncode(t, tile, []service.FieldView{restricted, approved, elsewhere}))
	require.Len(t, layer.Features, 2)

	byID := map[string]geojson.Properties{}
	for _, f := range layer.Features {
		byID[f.Properties.MustString("id")] = f.Properties
	}

	r := byID["r"]
	require.NotNil(t, r)
	assert.Len(t, r, 4)
	assert.Equal(t, service.RestrictedName, r["name"])
	assert.Equal(t, service.RestrictedCrop, r["crop"])
	assert.Equal(t, "restricted", r["access_level"])

	a := byID["a"]
	require.NotNil(t, a)
	assert.Equal(t, "Home a", a["name"])
	assert.Equal(t, "2026", a["season"])
	assert.Equal(t, "growing", a["status"])
	assert.Equal(t, 160.0, a["acres"])
	assert.NotContains(t, a, "notes")
}

func TestEncode_EmptyTile(t *testing.T) {
	tile := maptile.New(0, 0, 3)
	v := service.ProjectAs(field("x", box(orb.Point{10, 50}, 0.001)), service.AccessOwner)
	v.Geometry = nil

	layer := decode(t, mustEncode(t, tile, []service.FieldView{v}))
	assert.Empty(t, layer.Features)
}

func TestEncode_DoesNotMutateViews(t *testing.T) {
	tile := maptile.At(orb.Point{-93.6, 42.0}, 14)
	g := box(tile.Center(), 0.02)
	v := service.ProjectAs(field("big", g), service.AccessOwner)
	want := orb.Clone(g)

	mustEncode(t, tile, []service.FieldView{v})
	assert.Equal(t, want, v.Geometry.Geometry())
}

func TestIntersectsTile(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}

	assert.True(t, intersectsTile(box(orb.Point{0.5, 0.5}, 0.1), bound), "inside")
	assert.True(t, intersectsTile(box(orb.Point{0.5, 0.5}, 5), bound), "covers the tile")
	assert.False(t, intersectsTile(box(orb.Point{5, 5}, 0.1), bound), "disjoint")

	// An L shape whose bound overlaps the tile but whose area does not.
	l := orb.Polygon{orb.Ring{{-1, -1}, {3, -1}, {3, -0.5}, {-0.5, -0.5}, {-0.5, 3}, {-1, 3}, {-1, -1}}}
	assert.False(t, intersectsTile(l, bound))
}

func TestParse(t *testing.T) {
	tile, err := Parse(3, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, maptile.New(7, 0, 3), tile)

	for _, c := range [][3]int{{-1, 0, 0}, {MaxZoom + 1, 0, 0}, {3, 8, 0}, {3, 0, -1}} {
		_, err := Parse(c[0], c[1], c[2])
		assert.Error(t, err, "%v", c)
	}
}

func mustEncode(t *testing.T, tile maptile.Tile, views []service.FieldView) []byte {
	t.Helper()
	data, err := Encode(tile, views)
	require.NoError(t, err)
	return data
}
