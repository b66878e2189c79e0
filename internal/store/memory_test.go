package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-fields/internal/service"
)

func testField(id, owner string) service.Field {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	return service.Field{
		ID:         id,
		UserID:     owner,
		Name:       "Field " + id,
		Geometry:   geojson.NewGeometry(orb.Polygon{orb.Ring{{0, 0}, {0.01, 0}, {0.01, 0.01}, {0, 0.01}, {0, 0}}}),
		Crop:       "wheat",
		SprayTypes: []service.SprayType{service.SprayConventional},
		Season:     "2026",
		Status:     service.StatusPlanted,
		Acres:      120,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemory_FieldsCopiesAndPaging(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("")
	require.NoError(t, err)

	for _, id := range []string{"c", "a", "b", "d"} {
		require.NoError(t, m.CreateField(ctx, testField(id, "u1")))
	}
	assert.Error(t, m.CreateField(ctx, testField("a", "u1")))

	page, err := m.ListFieldsPage(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "c", page[2].ID)

	page, err = m.ListFieldsPage(ctx, "c", 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d", page[0].ID)

	got, err := m.GetField(ctx, "a")
	require.NoError(t, err)
	got.Geometry.Coordinates.(orb.Polygon)[0][0] = orb.Point{9, 9}
	got.SprayTypes[0] = service.SprayEnlist

	again, err := m.GetField(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{0, 0}, again.Shape().(orb.Polygon)[0][0])
	assert.Equal(t, service.SprayConventional, again.SprayTypes[0])

	_, err = m.GetField(ctx, "zz")
	assert.ErrorIs(t, err, service.ErrFieldNotFound)
}

func TestMemory_GetOrCreatePermission(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("")
	require.NoError(t, err)

	p := service.FieldVisibilityPermission{ID: "p1", OwnerFieldID: "f1", OwnerUserID: "o", ViewerUserID: "v", Status: service.PermissionPending}
	got, created, err := m.GetOrCreatePermission(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "p1", got.ID)

	p.ID = "p2"
	got, created, err = m.GetOrCreatePermission(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "p1", got.ID)

	found, err := m.FindPermission(ctx, "f1", "v")
	require.NoError(t, err)
	require.NotNil(t, found)
	missing, err := m.FindPermission(ctx, "f1", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_DeleteFieldCascades(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("")
	require.NoError(t, err)

	require.NoError(t, m.CreateField(ctx, testField("a", "u1")))
	require.NoError(t, m.CreateField(ctx, testField("b", "u2")))
	require.NoError(t, m.CreateField(ctx, testField("c", "u3")))
	require.NoError(t, m.CreateAdjacentFieldEdge(ctx, service.AdjacentFieldEdge{FieldID: "b", AdjacentFieldID: "a"}))
	require.NoError(t, m.CreateAdjacentFieldEdge(ctx, service.AdjacentFieldEdge{FieldID: "b", AdjacentFieldID: "c"}))
	_, _, err = m.GetOrCreatePermission(ctx, service.FieldVisibilityPermission{ID: "p1", OwnerFieldID: "a", ViewerUserID: "u2", ViewerFieldID: "b"})
	require.NoError(t, err)
	_, _, err = m.GetOrCreatePermission(ctx, service.FieldVisibilityPermission{ID: "p2", OwnerFieldID: "b", ViewerUserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, m.CreateServiceProviderAccess(ctx, service.ServiceProviderAccess{ID: "g1", FarmerID: "u2", AccessType: service.ProviderSpecificFields, FieldIDs: []string{"b", "x"}}))

	require.NoError(t, m.DeleteField(ctx, "b"))

	edges, err := m.GetAdjacentFieldEdges(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, edges)
	edges, err = m.GetAdjacentFieldEdges(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, edges)

	_, err = m.GetPermission(ctx, "p2")
	assert.ErrorIs(t, err, service.ErrPermissionNotFoundOrUnauthorized)
	p1, err := m.GetPermission(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p1.ViewerFieldID)

	g, err := m.GetServiceProviderAccess(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, g.FieldIDs)

	assert.ErrorIs(t, m.DeleteField(ctx, "b"), service.ErrFieldNotFound)
}

func TestMemory_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewMemory(dir)
	require.NoError(t, err)
	require.NoError(t, m.CreateField(ctx, testField("a", "u1")))
	require.NoError(t, m.CreateAdjacentFieldEdge(ctx, service.AdjacentFieldEdge{FieldID: "a", AdjacentFieldID: "b", DistanceMeters: 12.5}))
	require.NoError(t, m.UpsertUser(ctx, service.User{ID: "u1", Name: "Ada"}))
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.CreateServiceProviderAccess(ctx, service.ServiceProviderAccess{ID: "g1", FarmerID: "u1", ServiceProviderID: "p", ExpiresAt: &expires}))

	reloaded, err := NewMemory(dir)
	require.NoError(t, err)

	f, err := reloaded.GetField(ctx, "a")
	require.NoError(t, err)
	want := testField("a", "u1")
	assert.Equal(t, want.Shape(), f.Shape())
	assert.Equal(t, want.SprayTypes, f.SprayTypes)
	assert.True(t, want.CreatedAt.Equal(f.CreatedAt))

	edges, err := reloaded.GetAdjacentFieldEdges(ctx, "b")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 12.5, edges[0].DistanceMeters)

	u, err := reloaded.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	g, err := reloaded.GetServiceProviderAccess(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, g.ExpiresAt)
	assert.True(t, expires.Equal(*g.ExpiresAt))
}

func TestMemory_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotFile), []byte("{not json"), 0644))
	_, err := NewMemory(dir)
	assert.Error(t, err)
}

func TestMemory_Counts(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("")
	require.NoError(t, err)
	require.NoError(t, m.CreateField(ctx, testField("a", "u1")))
	require.NoError(t, m.UpsertUser(ctx, service.User{ID: "u1", Name: "Ada"}))

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["fields"])
	assert.Equal(t, 1, counts["users"])
	assert.Equal(t, 0, counts["adjacent_field_edges"])
}

func TestMemory_StatusUpdatesCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory("")
	require.NoError(t, err)
	now := time.Now().UTC()

	_, _, err = m.GetOrCreatePermission(ctx, service.FieldVisibilityPermission{
		ID: "p1", OwnerFieldID: "f1", OwnerUserID: "u1", ViewerUserID: "u2", Status: service.PermissionPending,
	})
	require.NoError(t, err)

	p, err := m.UpdatePermissionStatus(ctx, "p1", service.PermissionPending, service.PermissionApproved, now)
	require.NoError(t, err)
	assert.Equal(t, service.PermissionApproved, p.Status)

	_, err = m.UpdatePermissionStatus(ctx, "p1", service.PermissionPending, service.PermissionDenied, now)
	var stale *service.StaleStatusError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "approved", stale.Current)
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	stored, err := m.GetPermission(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, service.PermissionApproved, stored.Status)

	require.NoError(t, m.CreateServiceProviderAccess(ctx, service.ServiceProviderAccess{
		ID: "a1", FarmerID: "u1", ServiceProviderID: "u3", AccessType: service.ProviderAllFields, Status: service.ProviderPending,
	}))
	_, err = m.UpdateServiceProviderAccessStatus(ctx, "a1", service.ProviderApproved, service.ProviderRevoked, now)
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "pending", stale.Current)
}

// breakSnapshot makes every later snapshot write fail by occupying the
// temporary file path with a directory.
func breakSnapshot(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.Mkdir(filepath.Join(dir, snapshotFile+".tmp"), 0755))
}

func TestMemory_FailedSnapshotLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := NewMemory(dir)
	require.NoError(t, err)

	require.NoError(t, m.CreateField(ctx, testField("a", "u1")))
	require.NoError(t, m.CreateAdjacentFieldEdge(ctx, service.AdjacentFieldEdge{FieldID: "a", AdjacentFieldID: "b"}))
	_, _, err = m.GetOrCreatePermission(ctx, service.FieldVisibilityPermission{
		ID: "p1", OwnerFieldID: "a", OwnerUserID: "u1", ViewerUserID: "u2", Status: service.PermissionPending,
	})
	require.NoError(t, err)
	breakSnapshot(t, dir)

	assert.Error(t, m.CreateField(ctx, testField("b", "u1")))
	_, err = m.GetField(ctx, "b")
	assert.ErrorIs(t, err, service.ErrFieldNotFound)

	renamed := testField("a", "u1")
	renamed.Name = "Renamed"
	assert.Error(t, m.UpdateField(ctx, renamed))
	f, err := m.GetField(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Field a", f.Name)

	assert.Error(t, m.DeleteField(ctx, "a"))
	_, err = m.GetField(ctx, "a")
	require.NoError(t, err)
	edges, err := m.GetAdjacentFieldEdges(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
	_, err = m.GetPermission(ctx, "p1")
	require.NoError(t, err)

	assert.Error(t, m.DeleteAdjacentFieldEdgesFor(ctx, "a"))
	edges, err = m.GetAdjacentFieldEdges(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	_, err = m.UpdatePermissionStatus(ctx, "p1", service.PermissionPending, service.PermissionApproved, time.Now())
	assert.Error(t, err)
	p, err := m.GetPermission(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, service.PermissionPending, p.Status)

	assert.Error(t, m.UpsertUser(ctx, service.User{ID: "u1", Name: "Ada"}))
	_, err = m.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, service.ErrUserNotFound)
}
