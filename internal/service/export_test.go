package service

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fields/internal/geometry"
)

// Test hooks for package service_test.

func (e *ProximityEngine) SetBoundaryLength(fn func(anchor *geometry.Prepared, candidate orb.Geometry) (float64, error)) {
	e.boundaryLength = fn
}

func (v *OverlapValidator) SetExactOverlaps(fn func(a, b orb.Geometry) (bool, error)) {
	v.overlaps = fn
}

func (p *AccessProjector) SetClock(now Clock) { p.now = now }

func (s *PermissionService) SetClock(now Clock) { s.now = now }

func FixedClock(t time.Time) Clock { return func() time.Time { return t } }
