package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-fields/internal/config"
	"github.com/joeblew999/plat-fields/internal/logger"
	"github.com/joeblew999/plat-fields/internal/service"
	"github.com/joeblew999/plat-fields/internal/store"
)

func newTestAPI(t *testing.T) (humatest.TestAPI, *Services) {
	t.Helper()
	repo, err := store.NewMemory("")
	require.NoError(t, err)

	log := logger.Discard()
	policy := config.DefaultPolicy()
	bus := service.NewEventBus()
	proximity := service.NewProximityEngine(repo, policy, log, nil)
	overlap := service.NewOverlapValidator(repo, policy, log, nil)

	svc := &Services{
		Fields:      service.NewFieldService(repo, overlap, proximity, bus, log),
		Proximity:   proximity,
		Overlap:     overlap,
		Permissions: service.NewPermissionService(repo, nil, bus, log, nil),
		Access:      service.NewAccessProjector(repo, log, nil),
		Providers:   service.NewProviderAccessService(repo, bus, log),
		Users:       repo,
		Bus:         bus,
		Stats:       repo,
	}
	_, api := humatest.New(t)
	RegisterRoutes(api, svc)
	return api, svc
}

// squareGeoJSON is a GeoJSON polygon with its south-west corner at (lng, lat).
func squareGeoJSON(lng, lat, size float64) map[string]any {
	return map[string]any{
		"type": "Polygon",
		"coordinates": [][][]float64{{
			{lng, lat}, {lng + size, lat}, {lng + size, lat + size}, {lng, lat + size}, {lng, lat},
		}},
	}
}

func user(id string) string { return "X-User-ID: " + id }

func decodeBody[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func createField(t *testing.T, api humatest.TestAPI, owner, name string, lng, lat float64) service.FieldView {
	t.Helper()
	resp := api.Post("/api/v1/fields", user(owner), map[string]any{
		"name":     name,
		"crop":     "corn",
		"season":   "2026",
		"status":   "growing",
		"acres":    80,
		"notes":    "owner only",
		"geometry": squareGeoJSON(lng, lat, 0.01),
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return decodeBody[service.FieldView](t, resp)
}

func TestCreateField(t *testing.T) {
	api, _ := newTestAPI(t)

	v := createField(t, api, "u1", "West", 0, 0)
	assert.Equal(t, service.AccessOwner, v.AccessLevel)
	assert.Equal(t, "West", v.Name)
	require.NotNil(t, v.Notes)
	assert.Equal(t, "owner only", *v.Notes)
	assert.NotEmpty(t, v.ID)
}

func TestCreateField_Errors(t *testing.T) {
	api, _ := newTestAPI(t)
	createField(t, api, "u1", "West", 0, 0)

	t.Run("line geometry", func(t *testing.T) {
		resp := api.Post("/api/v1/fields", user("u2"), map[string]any{
			"name":     "Line",
			"geometry": map[string]any{"type": "LineString", "coordinates": [][]float64{{0, 0}, {1, 1}}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("self-intersecting geometry", func(t *testing.T) {
		resp := api.Post("/api/v1/fields", user("u2"), map[string]any{
			"name": "Bowtie",
			"geometry": map[string]any{
				"type":        "Polygon",
				"coordinates": [][][]float64{{{5, 5}, {5.01, 5.01}, {5.01, 5}, {5, 5.01}, {5, 5}}},
			},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		assert.Contains(t, resp.Body.String(), "not simple")
	})

	t.Run("bad status", func(t *testing.T) {
		resp := api.Post("/api/v1/fields", user("u2"), map[string]any{
			"name":     "Flooded",
			"status":   "flooded",
			"geometry": squareGeoJSON(5, 5, 0.01),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("overlap", func(t *testing.T) {
		resp := api.Post("/api/v1/fields", user("u2"), map[string]any{
			"name":     "East",
			"geometry": squareGeoJSON(0.005, 0, 0.01),
		})
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Contains(t, resp.Body.String(), "West")
	})

	t.Run("no caller", func(t *testing.T) {
		resp := api.Post("/api/v1/fields", map[string]any{"name": "Anon"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func TestCheckOverlap(t *testing.T) {
	api, _ := newTestAPI(t)
	v := createField(t, api, "u1", "West", 0, 0)

	resp := api.Post("/api/v1/fields/check-overlap", user("u2"), map[string]any{
		"geometry": squareGeoJSON(0.002, 0.002, 0.002),
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	res := decodeBody[service.OverlapResult](t, resp)
	assert.True(t, res.HasOverlap)
	assert.Equal(t, []string{"West"}, res.OverlappingFieldNames)

	resp = api.Post("/api/v1/fields/check-overlap", user("u1"), map[string]any{
		"geometry":       squareGeoJSON(0.002, 0.002, 0.002),
		"excludeFieldId": v.ID,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decodeBody[service.OverlapResult](t, resp).HasOverlap)
}

func TestGetField_ProjectedPerViewer(t *testing.T) {
	api, _ := newTestAPI(t)
	v := createField(t, api, "owner", "Home", 0, 0)

	resp := api.Get("/api/v1/fields/"+v.ID, user("stranger"))
	require.Equal(t, http.StatusOK, resp.Code)
	got := decodeBody[service.FieldView](t, resp)
	assert.Equal(t, service.AccessRestricted, got.AccessLevel)
	assert.Equal(t, service.RestrictedName, got.Name)
	assert.Nil(t, got.Notes)
	assert.Nil(t, got.Acres)
	require.NotNil(t, got.Geometry)
	assert.NotContains(t, resp.Body.String(), "Home")

	resp = api.Get("/api/v1/fields/missing", user("stranger"))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAccessRequestWorkflow(t *testing.T) {
	api, _ := newTestAPI(t)
	mine := createField(t, api, "viewer", "Mine", 0, 0)
	theirs := createField(t, api, "owner", "Theirs", 0.01, 0)

	resp := api.Post("/api/v1/fields/"+theirs.ID+"/access-requests", user("viewer"), map[string]any{
		"viewerFieldId": mine.ID,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	p := decodeBody[service.FieldVisibilityPermission](t, resp)
	assert.Equal(t, service.PermissionPending, p.Status)

	resp = api.Get("/api/v1/permissions", user("owner"))
	require.Equal(t, http.StatusOK, resp.Code)
	lists := decodeBody[PermissionsBody](t, resp)
	require.Len(t, lists.Incoming, 1)
	assert.Empty(t, lists.Outgoing)

	// Only the owner may decide, and others cannot tell the id exists.
	resp = api.Post("/api/v1/permissions/"+p.ID+"/respond", user("viewer"), map[string]any{"status": "approved"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = api.Post("/api/v1/permissions/nope/respond", user("owner"), map[string]any{"status": "approved"})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Post("/api/v1/permissions/"+p.ID+"/revoke", user("owner"))
	assert.Equal(t, http.StatusConflict, resp.Code, "pending cannot be revoked")

	resp = api.Post("/api/v1/permissions/"+p.ID+"/respond", user("owner"), map[string]any{"status": "approved"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Get("/api/v1/fields/"+theirs.ID, user("viewer"))
	require.Equal(t, http.StatusOK, resp.Code)
	got := decodeBody[service.FieldView](t, resp)
	assert.Equal(t, service.AccessApproved, got.AccessLevel)
	assert.Equal(t, "Theirs", got.Name)
	assert.Nil(t, got.Notes)

	resp = api.Get("/api/v1/fields/"+mine.ID+"/adjacent", user("viewer"))
	require.Equal(t, http.StatusOK, resp.Code)
	adj := decodeBody[AdjacentBody](t, resp)
	require.Len(t, adj.Edges, 1)
	require.Len(t, adj.Fields, 1)
	assert.Equal(t, "Theirs", adj.Fields[0].Name)
}

func TestUpdateAndDeleteField_OwnerOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	v := createField(t, api, "owner", "Home", 0, 0)

	body := map[string]any{"name": "Renamed", "geometry": squareGeoJSON(0, 0, 0.01)}
	resp := api.Put("/api/v1/fields/"+v.ID, user("someone"), body)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Put("/api/v1/fields/"+v.ID, user("owner"), body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "Renamed", decodeBody[service.FieldView](t, resp).Name)

	resp = api.Delete("/api/v1/fields/"+v.ID, user("someone"))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = api.Delete("/api/v1/fields/"+v.ID, user("owner"))
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = api.Get("/api/v1/fields/"+v.ID, user("owner"))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListFieldsAndNearby(t *testing.T) {
	api, _ := newTestAPI(t)
	mine := createField(t, api, "me", "Mine", 0, 0)
	next := createField(t, api, "neighbour", "Next door", 0.01, 0)
	createField(t, api, "far", "Far", 1, 1)

	resp := api.Get("/api/v1/fields", user("me"))
	require.Equal(t, http.StatusOK, resp.Code)
	views := decodeBody[[]service.FieldView](t, resp)
	require.Len(t, views, 2)

	resp = api.Post("/api/v1/fields/"+mine.ID+"/adjacency", user("me"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Len(t, decodeBody[[]service.AdjacentFieldEdge](t, resp), 1)

	resp = api.Get("/api/v1/nearby?lng=0.005&lat=0.005&radiusKm=3", user("me"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	nearby := decodeBody[[]NearbyView](t, resp)
	require.Len(t, nearby, 2)
	assert.Equal(t, mine.ID, nearby[0].Field.ID)
	assert.Equal(t, next.ID, nearby[1].Field.ID)
	assert.Equal(t, service.AccessRestricted, nearby[1].Field.AccessLevel)
	assert.Less(t, nearby[0].DistanceMeters, nearby[1].DistanceMeters)
}

func TestProviderAccessRoutes(t *testing.T) {
	api, _ := newTestAPI(t)
	f := createField(t, api, "farmer", "Contracted", 0, 0)

	resp := api.Post("/api/v1/provider-access", user("farmer"), map[string]any{
		"serviceProviderId": "agronomist",
		"accessType":        "specific_fields",
		"fieldIds":          []string{f.ID},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	grant := decodeBody[service.ServiceProviderAccess](t, resp)
	assert.Equal(t, service.ProviderApproved, grant.Status)

	resp = api.Get("/api/v1/fields/"+f.ID, user("agronomist"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Contracted", decodeBody[service.FieldView](t, resp).Name)

	resp = api.Post("/api/v1/provider-access/"+grant.ID+"/revoke", user("agronomist"))
	assert.Equal(t, http.StatusNotFound, resp.Code, "only the farmer revokes")
	resp = api.Post("/api/v1/provider-access/"+grant.ID+"/revoke", user("farmer"))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = api.Get("/api/v1/fields/"+f.ID, user("agronomist"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, service.AccessRestricted, decodeBody[service.FieldView](t, resp).AccessLevel)

	resp = api.Post("/api/v1/provider-access/requests", user("coop"), map[string]any{
		"farmerId":   "stranger",
		"accessType": "all_fields",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code, "requests name a registered farmer")

	resp = api.Put("/api/v1/users/me", user("farmer"), map[string]any{"name": "Fran Farmer"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = api.Post("/api/v1/provider-access/requests", user("coop"), map[string]any{
		"farmerId":          "farmer",
		"serviceProviderId": "coop",
		"accessType":        "all_fields",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	req := decodeBody[service.ServiceProviderAccess](t, resp)
	assert.Equal(t, service.ProviderPending, req.Status)

	resp = api.Post("/api/v1/provider-access/"+req.ID+"/respond", user("farmer"), map[string]any{"status": "approved"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Get("/api/v1/provider-access", user("farmer"))
	require.Equal(t, http.StatusOK, resp.Code)
	lists := decodeBody[ProviderAccessBody](t, resp)
	assert.Len(t, lists.Given, 2)
	assert.Empty(t, lists.Received)
}

func TestPutMeAndStats(t *testing.T) {
	api, svc := newTestAPI(t)
	createField(t, api, "u1", "West", 0, 0)

	resp := api.Put("/api/v1/users/me", user("u1"), map[string]any{"name": "Ada"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	u, err := svc.Users.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	resp = api.Get("/api/v1/stats")
	require.Equal(t, http.StatusOK, resp.Code)
	stats := decodeBody[struct {
		Counts map[string]int `json:"counts"`
	}](t, resp)
	assert.Equal(t, 1, stats.Counts["fields"])
	assert.Equal(t, 1, stats.Counts["users"])
}

func TestGetTile(t *testing.T) {
	api, _ := newTestAPI(t)
	createField(t, api, "owner", "Home", 0.001, 0.001)
	createField(t, api, "neighbour", "Next door", 0.011, 0.001)

	tile := maptile.At(orb.Point{0.006, 0.006}, 12)
	resp := api.Get(fmt.Sprintf("/api/v1/map/tiles/%d/%d/%d", tile.Z, tile.X, tile.Y), user("neighbour"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "application/vnd.mapbox-vector-tile", resp.Header().Get("Content-Type"))

	layers, err := mvt.Unmarshal(resp.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Len(t, layers[0].Features, 2)

	byLevel := map[any]map[string]any{}
	for _, f := range layers[0].Features {
		byLevel[f.Properties["access_level"]] = f.Properties
	}
	require.Contains(t, byLevel, "restricted")
	assert.Equal(t, service.RestrictedName, byLevel["restricted"]["name"])
	require.Contains(t, byLevel, "owner")
	assert.Equal(t, "Next door", byLevel["owner"]["name"])

	resp = api.Get("/api/v1/map/tiles/3/8/0", user("neighbour"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStreamEvents_FiltersByAudience(t *testing.T) {
	ch := make(chan service.Event, 4)
	ch <- service.Event{Resource: "fields", Action: "created", ID: "a", Users: []string{"other"}}
	ch <- service.Event{Resource: "permissions", Action: "requested", ID: "p", Users: []string{"owner", "viewer"}}
	ch <- service.Event{Resource: "fields", Action: "deleted", ID: "b", Users: []string{"viewer"}}
	close(ch)

	var got []string
	streamEvents(context.Background(), ch, "viewer", func(ev service.Event) error {
		got = append(got, ev.ID)
		return nil
	})
	assert.Equal(t, []string{"p", "b"}, got)
}

func TestStreamEvents_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		streamEvents(ctx, make(chan service.Event), "viewer", func(service.Event) error { return nil })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
