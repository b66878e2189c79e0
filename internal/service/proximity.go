package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-fields/internal/config"
	"github.com/joeblew999/plat-fields/internal/geometry"
	"github.com/joeblew999/plat-fields/internal/logger"
)

// boundaryEstimateRatio is the share of the shorter perimeter used as the
// shared boundary length when the exact intersection cannot be computed.
const boundaryEstimateRatio = 0.1

// ProximityEngine maintains adjacency edges and answers discovery queries.
type ProximityEngine struct {
	fields  FieldStore
	edges   EdgeStore
	policy  config.Policy
	log     logger.Logger
	metrics *Metrics

	// boundaryLength measures the shared boundary of a candidate against the
	// prepared anchor. Replaced in tests to force the estimate path.
	boundaryLength func(anchor *geometry.Prepared, candidate orb.Geometry) (float64, error)

	group singleflight.Group
	// runMu serializes recompute runs so that a run which read an older
	// geometry cannot write its edges after a newer run.
	runMu sync.Mutex
}

// NewProximityEngine creates a proximity engine over repo.
func NewProximityEngine(repo Repository, policy config.Policy, log logger.Logger, metrics *Metrics) *ProximityEngine {
	return &ProximityEngine{
		fields:  repo,
		edges:   repo,
		policy:  policy,
		log:     log.With("component", "proximity"),
		metrics: metrics,
		boundaryLength: func(anchor *geometry.Prepared, candidate orb.Geometry) (float64, error) {
			return anchor.SharedBoundaryLength(candidate)
		},
	}
}

// RecomputeAdjacency replaces every edge touching fieldID with freshly
// computed ones. Concurrent calls for the same field share one run.
//
// A missing anchor returns ErrFieldNotFound. An anchor without usable
// geometry ends up with no edges. Candidates whose geometry cannot be
// evaluated are logged and skipped.
func (e *ProximityEngine) RecomputeAdjacency(ctx context.Context, fieldID string) error {
	_, err, _ := e.group.Do(fieldID, func() (any, error) {
		e.runMu.Lock()
		defer e.runMu.Unlock()
		return nil, e.recompute(ctx, fieldID)
	})
	return err
}

// RefreshAdjacency recomputes fieldID after its geometry was written. It
// never joins a run already in flight, since that run may have read the
// previous geometry.
func (e *ProximityEngine) RefreshAdjacency(ctx context.Context, fieldID string) error {
	e.group.Forget(fieldID)
	return e.RecomputeAdjacency(ctx, fieldID)
}

func (e *ProximityEngine) recompute(ctx context.Context, fieldID string) error {
	started := time.Now()
	log := e.log.With("field_id", fieldID)

	anchor, err := e.fields.GetField(ctx, fieldID)
	if err != nil {
		e.metrics.recompute("error", started, 0, 0, 0)
		return err
	}

	prepared, anchorCentroid, err := e.prepareAnchor(anchor)
	if err != nil {
		log.Warn("anchor field has no usable geometry, clearing adjacency", "error", err)
		if err := e.edges.DeleteAdjacentFieldEdgesFor(ctx, fieldID); err != nil {
			e.metrics.recompute("error", started, 0, 0, 0)
			return fmt.Errorf("clearing adjacency for %s: %w", fieldID, err)
		}
		e.metrics.recompute("cleared", started, 0, 0, 0)
		return nil
	}

	var (
		edges     []AdjacentFieldEdge
		skipped   int
		estimated int
		now       = time.Now().UTC()
	)
	err = scanFields(ctx, e.fields, e.policy.ScanPageSize, func(candidate Field) error {
		if candidate.ID == anchor.ID {
			return nil
		}
		shape := candidate.Shape()
		if shape == nil {
			return nil
		}
		edge, ok, err := e.evaluate(prepared, anchorCentroid, anchor.ID, candidate.ID, shape)
		if err != nil {
			skipped++
			log.Warn("skipping adjacency candidate", "candidate_id", candidate.ID, "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		if edge.Estimated {
			estimated++
			log.Info("shared boundary length estimated from perimeter", "candidate_id", candidate.ID)
		}
		edge.CreatedAt = now
		edges = append(edges, edge)
		return nil
	})
	if err != nil {
		e.metrics.recompute("error", started, 0, skipped, 0)
		return fmt.Errorf("scanning fields: %w", err)
	}

	if err := e.edges.DeleteAdjacentFieldEdgesFor(ctx, fieldID); err != nil {
		e.metrics.recompute("error", started, 0, skipped, 0)
		return fmt.Errorf("clearing adjacency for %s: %w", fieldID, err)
	}
	for _, edge := range edges {
		if err := e.edges.CreateAdjacentFieldEdge(ctx, edge); err != nil {
			e.metrics.recompute("error", started, 0, skipped, estimated)
			return fmt.Errorf("writing edge %s -> %s: %w", edge.FieldID, edge.AdjacentFieldID, err)
		}
	}

	e.metrics.recompute("ok", started, len(edges), skipped, estimated)
	log.Debug("adjacency recomputed", "edges", len(edges), "skipped", skipped)
	return nil
}

func (e *ProximityEngine) prepareAnchor(anchor *Field) (*geometry.Prepared, orb.Point, error) {
	shape := anchor.Shape()
	if shape == nil {
		return nil, orb.Point{}, errors.New("field has no geometry")
	}
	c, err := geometry.Centroid(shape)
	if err != nil {
		return nil, orb.Point{}, err
	}
	p, err := geometry.Prepare(shape, e.policy.AdjacencyToleranceMeters)
	if err != nil {
		return nil, orb.Point{}, err
	}
	return p, c, nil
}

// evaluate decides whether candidate is adjacent to the prepared anchor.
func (e *ProximityEngine) evaluate(anchor *geometry.Prepared, anchorCentroid orb.Point, anchorID, candidateID string, candidate orb.Geometry) (AdjacentFieldEdge, bool, error) {
	c, err := geometry.Centroid(candidate)
	if err != nil {
		return AdjacentFieldEdge{}, false, err
	}
	distance := geometry.DistanceMeters(anchorCentroid, c)
	if !geometry.WithinRadius(distance, e.policy.DiscoveryRadiusMeters) {
		return AdjacentFieldEdge{}, false, nil
	}

	hit, err := anchor.Intersects(candidate)
	if err != nil {
		return AdjacentFieldEdge{}, false, err
	}
	if !hit {
		return AdjacentFieldEdge{}, false, nil
	}

	edge := AdjacentFieldEdge{
		FieldID:         anchorID,
		AdjacentFieldID: candidateID,
		DistanceMeters:  distance,
	}
	length, err := e.boundaryLength(anchor, candidate)
	if err != nil {
		length, err = estimateSharedBoundary(anchor.Source(), candidate)
		if err != nil {
			return AdjacentFieldEdge{}, false, err
		}
		edge.Estimated = true
	}
	edge.SharedBoundaryMeters = length
	return edge, true, nil
}

// estimateSharedBoundary approximates the shared boundary as a fixed share
// of the shorter perimeter.
func estimateSharedBoundary(a, b orb.Geometry) (float64, error) {
	pa, err := geometry.Perimeter(a)
	if err != nil {
		return 0, err
	}
	pb, err := geometry.Perimeter(b)
	if err != nil {
		return 0, err
	}
	return boundaryEstimateRatio * math.Min(pa, pb), nil
}

// RecomputeAll rebuilds adjacency for every field and returns how many
// fields were processed.
func (e *ProximityEngine) RecomputeAll(ctx context.Context) (int, error) {
	var ids []string
	err := scanFields(ctx, e.fields, e.policy.ScanPageSize, func(f Field) error {
		ids = append(ids, f.ID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning fields: %w", err)
	}
	for i, id := range ids {
		if err := e.RecomputeAdjacency(ctx, id); err != nil && !errors.Is(err, ErrFieldNotFound) {
			return i, err
		}
	}
	return len(ids), nil
}

// AdjacentFields returns the edges of fieldID, read as undirected.
func (e *ProximityEngine) AdjacentFields(ctx context.Context, fieldID string) ([]AdjacentFieldEdge, error) {
	if _, err := e.fields.GetField(ctx, fieldID); err != nil {
		return nil, err
	}
	edges, err := e.edges.GetAdjacentFieldEdges(ctx, fieldID)
	if err != nil {
		return nil, fmt.Errorf("loading adjacency for %s: %w", fieldID, err)
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Other(fieldID) < edges[j].Other(fieldID)
	})
	return edges, nil
}

// FindNearbyFields returns fields whose centroid lies within radiusKm of
// point, nearest first. A non-positive radius uses the configured discovery
// radius.
func (e *ProximityEngine) FindNearbyFields(ctx context.Context, point orb.Point, radiusKm float64) ([]NearbyField, error) {
	radius := radiusKm * 1000
	if radius <= 0 {
		radius = e.policy.DiscoveryRadiusMeters
	}

	var out []NearbyField
	err := scanFields(ctx, e.fields, e.policy.ScanPageSize, func(f Field) error {
		shape := f.Shape()
		if shape == nil {
			return nil
		}
		c, err := geometry.Centroid(shape)
		if err != nil {
			e.log.Debug("skipping field without measurable geometry", "field_id", f.ID, "error", err)
			return nil
		}
		d := geometry.DistanceMeters(point, c)
		if geometry.WithinRadius(d, radius) {
			out = append(out, NearbyField{Field: f, DistanceMeters: d})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning fields: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

// scanFields walks every field page by page.
func scanFields(ctx context.Context, store FieldStore, pageSize int, fn func(Field) error) error {
	if pageSize <= 0 {
		pageSize = config.DefaultPolicy().ScanPageSize
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := store.ListFieldsPage(ctx, after, pageSize)
		if err != nil {
			return err
		}
		for _, f := range page {
			if err := fn(f); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}
