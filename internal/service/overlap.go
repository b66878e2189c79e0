package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fields/internal/config"
	"github.com/joeblew999/plat-fields/internal/geometry"
	"github.com/joeblew999/plat-fields/internal/logger"
)

// Overlap check methods reported in OverlapResult.Method.
const (
	MethodSpatialIndex = "spatial-index"
	MethodExact        = "exact"
	MethodHeuristic    = "heuristic"
)

// OverlapValidator rejects boundaries that conflict with any existing field,
// whoever owns it.
type OverlapValidator struct {
	fields  FieldStore
	index   SpatialIndex
	policy  config.Policy
	log     logger.Logger
	metrics *Metrics

	// overlaps is the exact pairwise test. Replaced in tests to force the
	// heuristic path.
	overlaps func(a, b orb.Geometry) (bool, error)
}

// NewOverlapValidator creates a validator over repo. When repo also
// implements SpatialIndex it is queried first.
func NewOverlapValidator(repo Repository, policy config.Policy, log logger.Logger, metrics *Metrics) *OverlapValidator {
	v := &OverlapValidator{
		fields:   repo,
		policy:   policy,
		log:      log.With("component", "overlap"),
		metrics:  metrics,
		overlaps: geometry.Overlaps,
	}
	if idx, ok := repo.(SpatialIndex); ok {
		v.index = idx
	}
	return v
}

// CheckOverlap compares candidate with every stored field except
// excludeFieldID. An invalid candidate returns a *geometry.Error.
func (v *OverlapValidator) CheckOverlap(ctx context.Context, candidate orb.Geometry, excludeFieldID, ownerUserID string) (OverlapResult, error) {
	if err := geometry.Validate(candidate); err != nil {
		return OverlapResult{}, err
	}
	log := v.log.With("owner_id", ownerUserID, "exclude_field_id", excludeFieldID)

	if v.index != nil {
		found, err := v.index.FindOverlapping(ctx, candidate, excludeFieldID)
		if err == nil {
			res := newOverlapResult(MethodSpatialIndex, found)
			v.metrics.overlap(res.Method, res.HasOverlap)
			return res, nil
		}
		log.Warn("spatial index overlap query failed, checking in process", "error", err)
	}

	method := MethodExact
	var conflicts []Field
	err := scanFields(ctx, v.fields, v.policy.ScanPageSize, func(existing Field) error {
		if existing.ID == excludeFieldID {
			return nil
		}
		shape := existing.Shape()
		if shape == nil {
			return nil
		}
		hit, err := v.overlaps(candidate, shape)
		if err != nil {
			log.Warn("exact overlap test failed, using vertex heuristic", "field_id", existing.ID, "error", err)
			method = MethodHeuristic
			hit, err = geometry.HeuristicOverlap(candidate, shape, v.policy.OverlapVertexToleranceDegrees)
			if err != nil {
				log.Error("existing field geometry cannot be compared", "field_id", existing.ID, "error", err)
				return nil
			}
		}
		if hit {
			conflicts = append(conflicts, existing)
		}
		return nil
	})
	if err != nil {
		return OverlapResult{}, fmt.Errorf("scanning fields: %w", err)
	}

	res := newOverlapResult(method, conflicts)
	v.metrics.overlap(res.Method, res.HasOverlap)
	return res, nil
}

// Ensure returns an *OverlapConflictError when candidate conflicts with
// existing fields.
func (v *OverlapValidator) Ensure(ctx context.Context, candidate orb.Geometry, excludeFieldID, ownerUserID string) error {
	res, err := v.CheckOverlap(ctx, candidate, excludeFieldID, ownerUserID)
	if err != nil {
		return err
	}
	if res.HasOverlap {
		return &OverlapConflictError{FieldNames: res.OverlappingFieldNames}
	}
	return nil
}

func newOverlapResult(method string, conflicts []Field) OverlapResult {
	names := make([]string, 0, len(conflicts))
	for _, f := range conflicts {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return OverlapResult{
		HasOverlap:            len(names) > 0,
		OverlappingFieldNames: names,
		Method:                method,
	}
}
