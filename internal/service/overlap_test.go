package service_test

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-fields/internal/geometry"
	"github.com/joeblew999/plat-fields/internal/service"
)

func TestCheckOverlap_PartialOverlapRejectsCreate(t *testing.T) {
	e := newEnv(t)
	e.create(t, "u1", "North 40", square(0, 0, 1000))

	// Covers 40% of North 40.
	candidate := square(600, 0, 1000)
	res, err := e.overlap.CheckOverlap(e.ctx, candidate, "", "u2")
	require.NoError(t, err)
	assert.True(t, res.HasOverlap)
	assert.Equal(t, []string{"North 40"}, res.OverlappingFieldNames)
	assert.Equal(t, service.MethodExact, res.Method)

	_, err = e.fields.Create(e.ctx, "u2", service.FieldInput{
		FieldAttributes: service.FieldAttributes{Name: "Intruder"},
		Geometry:        candidate,
	})
	var conflict *service.OverlapConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, []string{"North 40"}, conflict.FieldNames)

	mine, err := e.fields.ListByUser(e.ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, mine, "rejected create must not be stored")
}

func TestCheckOverlap_Containment(t *testing.T) {
	e := newEnv(t)
	e.create(t, "u1", "Home", square(0, 0, 1000))

	tests := map[string]orb.Geometry{
		"candidate inside existing": square(250, 250, 500),
		"existing inside candidate": square(-500, -500, 2000),
		"identical":                 square(0, 0, 1000),
	}
	for name, candidate := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := e.overlap.CheckOverlap(e.ctx, candidate, "", "u2")
			require.NoError(t, err)
			assert.True(t, res.HasOverlap)
			assert.Equal(t, []string{"Home"}, res.OverlappingFieldNames)
		})
	}
}

func TestCheckOverlap_SharedEdgeIsAllowed(t *testing.T) {
	e := newEnv(t)
	e.create(t, "u1", "West", square(0, 0, 1000))

	res, err := e.overlap.CheckOverlap(e.ctx, square(1000, 0, 1000), "", "u2")
	require.NoError(t, err)
	assert.False(t, res.HasOverlap)
	assert.Empty(t, res.OverlappingFieldNames)
}

func TestCheckOverlap_ExcludesFieldBeingEdited(t *testing.T) {
	e := newEnv(t)
	f := e.create(t, "u1", "Home", square(0, 0, 1000))

	res, err := e.overlap.CheckOverlap(e.ctx, square(0, 0, 900), f.ID, "u1")
	require.NoError(t, err)
	assert.False(t, res.HasOverlap)
}

func TestCheckOverlap_ReportsAllConflictsAcrossOwners(t *testing.T) {
	e := newEnv(t)
	e.create(t, "u1", "Bravo", square(0, 0, 1000))
	e.create(t, "u2", "Alpha", square(1000, 0, 1000))
	e.create(t, "u3", "Elsewhere", square(5000, 0, 1000))

	res, err := e.overlap.CheckOverlap(e.ctx, square(500, 0, 1000), "", "u4")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Bravo"}, res.OverlappingFieldNames)
}

func TestCheckOverlap_HeuristicFallback(t *testing.T) {
	e := newEnv(t)
	e.create(t, "u1", "Home", square(0, 0, 1000))
	e.overlap.SetExactOverlaps(func(a, b orb.Geometry) (bool, error) {
		return false, errors.New("geos unavailable")
	})

	res, err := e.overlap.CheckOverlap(e.ctx, square(250, 250, 500), "", "u2")
	require.NoError(t, err)
	assert.True(t, res.HasOverlap)
	assert.Equal(t, service.MethodHeuristic, res.Method)

	res, err = e.overlap.CheckOverlap(e.ctx, square(1000, 0, 1000), "", "u2")
	require.NoError(t, err)
	assert.False(t, res.HasOverlap)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.OverlapChecks.WithLabelValues(service.MethodHeuristic, "conflict")))
}

func TestCheckOverlap_InvalidCandidate(t *testing.T) {
	e := newEnv(t)
	_, err := e.overlap.CheckOverlap(e.ctx, orb.Polygon{orb.Ring{{0, 0}, {1, 1}}}, "", "u1")
	var ge *geometry.Error
	assert.True(t, errors.As(err, &ge))
}
