package service_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-fields/internal/config"
	"github.com/joeblew999/plat-fields/internal/logger"
	"github.com/joeblew999/plat-fields/internal/service"
	"github.com/joeblew999/plat-fields/internal/store"
)

// deg converts meters to degrees along a meridian (and along the equator).
func deg(meters float64) float64 {
	return meters / (orb.EarthRadius * math.Pi / 180)
}

// square returns a closed square polygon with its south-west corner at
// (x0, y0) meters from the origin at the equator.
func square(x0, y0, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{deg(x0), deg(y0)},
		{deg(x0 + size), deg(y0)},
		{deg(x0 + size), deg(y0 + size)},
		{deg(x0), deg(y0 + size)},
		{deg(x0), deg(y0)},
	}}
}

type notification struct {
	to, name, field string
	approved        bool
	decided         bool
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) NotifyAccessRequested(ownerUserID, requesterName, fieldName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{to: ownerUserID, name: requesterName, field: fieldName})
}

func (n *recordingNotifier) NotifyAccessDecided(viewerUserID, ownerName, fieldName string, approved bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{to: viewerUserID, name: ownerName, field: fieldName, approved: approved, decided: true})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type env struct {
	ctx       context.Context
	repo      *store.Memory
	metrics   *service.Metrics
	bus       *service.EventBus
	notifier  *recordingNotifier
	proximity *service.ProximityEngine
	overlap   *service.OverlapValidator
	perms     *service.PermissionService
	access    *service.AccessProjector
	providers *service.ProviderAccessService
	fields    *service.FieldService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo, err := store.NewMemory("")
	require.NoError(t, err)
	metrics, err := service.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	policy := config.DefaultPolicy()
	policy.ScanPageSize = 2 // exercise paging
	log := logger.Discard()
	bus := service.NewEventBus()
	notifier := &recordingNotifier{}

	e := &env{
		ctx:       context.Background(),
		repo:      repo,
		metrics:   metrics,
		bus:       bus,
		notifier:  notifier,
		proximity: service.NewProximityEngine(repo, policy, log, metrics),
		overlap:   service.NewOverlapValidator(repo, policy, log, metrics),
		perms:     service.NewPermissionService(repo, notifier, bus, log, metrics),
		access:    service.NewAccessProjector(repo, log, metrics),
		providers: service.NewProviderAccessService(repo, bus, log),
	}
	e.fields = service.NewFieldService(repo, e.overlap, e.proximity, bus, log)
	return e
}

// create stores a field through the field service.
func (e *env) create(t *testing.T, owner, name string, g orb.Geometry) *service.Field {
	t.Helper()
	f, err := e.fields.Create(e.ctx, owner, service.FieldInput{
		FieldAttributes: service.FieldAttributes{
			Name:       name,
			Crop:       "corn",
			SprayTypes: []service.SprayType{service.SprayRoundupReady},
			Variety:    "P1197",
			Season:     "2026",
			Status:     service.StatusGrowing,
			Acres:      247.1,
			Notes:      "drainage tile on the east side",
		},
		Geometry: g,
	})
	require.NoError(t, err)
	return f
}

// insert stores a field directly, bypassing validation.
func (e *env) insert(t *testing.T, f service.Field) {
	t.Helper()
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	require.NoError(t, e.repo.CreateField(e.ctx, f))
}

func geom(g orb.Geometry) *geojson.Geometry { return geojson.NewGeometry(g) }
