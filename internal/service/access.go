package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-fields/internal/logger"
)

// Placeholders shown in place of a restricted field's attributes.
const (
	RestrictedName = "Private Field"
	RestrictedCrop = "unknown"
)

// AccessProjector computes access levels and produces the only FieldView
// shapes that leave the core.
type AccessProjector struct {
	repo    Repository
	log     logger.Logger
	metrics *Metrics
	now     Clock
}

// NewAccessProjector creates a projector over repo.
func NewAccessProjector(repo Repository, log logger.Logger, metrics *Metrics) *AccessProjector {
	return &AccessProjector{
		repo:    repo,
		log:     log.With("component", "access"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AccessLevel computes viewerUserID's access to field.
func (p *AccessProjector) AccessLevel(ctx context.Context, field *Field, viewerUserID string) (AccessLevel, error) {
	if field.UserID == viewerUserID {
		return AccessOwner, nil
	}
	if viewerUserID == "" {
		return AccessRestricted, nil
	}

	perm, err := p.repo.FindPermission(ctx, field.ID, viewerUserID)
	if err != nil {
		return "", fmt.Errorf("loading permission for %s: %w", field.ID, err)
	}
	if perm != nil && perm.Status.Grants() {
		return AccessApproved, nil
	}

	grants, err := p.repo.GetServiceProviderAccessBetween(ctx, field.UserID, viewerUserID)
	if err != nil {
		return "", fmt.Errorf("loading provider access for %s: %w", field.ID, err)
	}
	now := p.now()
	for _, g := range grants {
		if g.Covers(field, now) {
			return AccessApproved, nil
		}
	}
	return AccessRestricted, nil
}

// Project returns the view of field appropriate for viewerUserID.
func (p *AccessProjector) Project(ctx context.Context, field *Field, viewerUserID string) (FieldView, error) {
	level, err := p.AccessLevel(ctx, field, viewerUserID)
	if err != nil {
		return FieldView{}, err
	}
	p.metrics.projected(level)
	return ProjectAs(field, level), nil
}

// ProjectAs builds the view of field for a known access level. Unknown
// levels are treated as restricted.
func ProjectAs(field *Field, level AccessLevel) FieldView {
	switch level {
	case AccessOwner, AccessApproved:
		v := FieldView{
			ID:          field.ID,
			AccessLevel: level,
			Name:        field.Name,
			UserID:      ptr(field.UserID),
			Geometry:    cloneGeometry(field.Geometry),
			Crop:        field.Crop,
			SprayTypes:  append([]SprayType{}, field.SprayTypes...),
			Variety:     ptr(field.Variety),
			Season:      ptr(field.Season),
			Status:      ptr(field.Status),
			Acres:       ptr(field.Acres),
			CreatedAt:   ptr(field.CreatedAt),
			UpdatedAt:   ptr(field.UpdatedAt),
		}
		if level == AccessOwner {
			v.Notes = ptr(field.Notes)
		}
		return v
	default:
		return FieldView{
			ID:          field.ID,
			AccessLevel: AccessRestricted,
			Name:        RestrictedName,
			Geometry:    cloneGeometry(field.Geometry),
			Crop:        RestrictedCrop,
			SprayTypes:  []SprayType{},
		}
	}
}

// ListForMap returns one view per field the viewer may see on the map: the
// viewer's own fields, the fields adjacent to them, and the fields of
// farmers who granted the viewer provider access. Views are ordered by id.
func (p *AccessProjector) ListForMap(ctx context.Context, viewerUserID string) ([]FieldView, error) {
	fields := map[string]*Field{}

	own, err := p.repo.GetFieldsByUser(ctx, viewerUserID)
	if err != nil {
		return nil, fmt.Errorf("loading own fields: %w", err)
	}
	for i := range own {
		fields[own[i].ID] = &own[i]
	}

	for _, f := range own {
		edges, err := p.repo.GetAdjacentFieldEdges(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("loading adjacency for %s: %w", f.ID, err)
		}
		for _, e := range edges {
			id := e.Other(f.ID)
			if _, ok := fields[id]; ok {
				continue
			}
			neighbour, err := p.repo.GetField(ctx, id)
			if errors.Is(err, ErrFieldNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("loading adjacent field %s: %w", id, err)
			}
			fields[id] = neighbour
		}
	}

	grants, err := p.repo.ListServiceProviderAccessByProvider(ctx, viewerUserID)
	if err != nil {
		return nil, fmt.Errorf("loading provider grants: %w", err)
	}
	now := p.now()
	farmers := map[string]bool{}
	for _, g := range grants {
		if g.Status != ProviderApproved || farmers[g.FarmerID] {
			continue
		}
		farmers[g.FarmerID] = true
		farmed, err := p.repo.GetFieldsByUser(ctx, g.FarmerID)
		if err != nil {
			return nil, fmt.Errorf("loading fields of %s: %w", g.FarmerID, err)
		}
		for i := range farmed {
			if _, ok := fields[farmed[i].ID]; ok || !coveredByAny(grants, &farmed[i], now) {
				continue
			}
			fields[farmed[i].ID] = &farmed[i]
		}
	}

	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	views := make([]FieldView, 0, len(ids))
	for _, id := range ids {
		v, err := p.Project(ctx, fields[id], viewerUserID)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func coveredByAny(grants []ServiceProviderAccess, f *Field, now time.Time) bool {
	for _, g := range grants {
		if g.Covers(f, now) {
			return true
		}
	}
	return false
}

func cloneGeometry(g *geojson.Geometry) *geojson.Geometry {
	if g == nil {
		return nil
	}
	shape := g.Geometry()
	if shape == nil {
		return nil
	}
	return geojson.NewGeometry(orb.Clone(shape))
}

func ptr[T any](v T) *T { return &v }
