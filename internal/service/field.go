package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-fields/internal/geometry"
	"github.com/joeblew999/plat-fields/internal/logger"
)

// FieldAttributes are the owner-editable, non-spatial attributes of a field.
type FieldAttributes struct {
	Name       string      `json:"name" validate:"required,max=200" doc:"Display name" example:"North 40"`
	Crop       string      `json:"crop,omitempty" validate:"max=100" doc:"Crop planted"`
	SprayTypes []SprayType `json:"sprayTypes,omitempty" validate:"dive,oneof=conventional roundup_ready liberty_link xtend enlist clearfield provisia" doc:"Herbicide-tolerance traits"`
	Variety    string      `json:"variety,omitempty" validate:"max=100" doc:"Seed variety"`
	Season     string      `json:"season,omitempty" validate:"omitempty,len=4,numeric" doc:"Season year" example:"2026"`
	Status     FieldStatus `json:"status,omitempty" validate:"omitempty,oneof=planted growing harvested fallow" enum:"planted,growing,harvested,fallow"`
	Acres      float64     `json:"acres,omitempty" validate:"gte=0" doc:"Area in acres"`
	Notes      string      `json:"notes,omitempty" validate:"max=5000" doc:"Owner-private notes"`
}

// FieldInput is a create or full update of a field. A nil Geometry stores a
// field without a boundary.
type FieldInput struct {
	FieldAttributes
	Geometry orb.Geometry
}

// FieldService orchestrates field writes: attribute validation, geometry
// validation, overlap check, persistence and adjacency recompute.
type FieldService struct {
	repo      Repository
	overlap   *OverlapValidator
	proximity *ProximityEngine
	bus       *EventBus
	log       logger.Logger
	validate  *validator.Validate
	now       Clock

	// writeMu serializes geometry writes so two writers cannot both pass the
	// overlap check against the same snapshot.
	writeMu sync.Mutex
}

// NewFieldService creates a field service.
func NewFieldService(repo Repository, overlap *OverlapValidator, proximity *ProximityEngine, bus *EventBus, log logger.Logger) *FieldService {
	return &FieldService{
		repo:      repo,
		overlap:   overlap,
		proximity: proximity,
		bus:       bus,
		log:       log.With("component", "fields"),
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored field.
func (s *FieldService) Get(ctx context.Context, id string) (*Field, error) {
	return s.repo.GetField(ctx, id)
}

// ListByUser returns the user's fields.
func (s *FieldService) ListByUser(ctx context.Context, userID string) ([]Field, error) {
	return s.repo.GetFieldsByUser(ctx, userID)
}

// Create stores a new field owned by ownerID.
func (s *FieldService) Create(ctx context.Context, ownerID string, in FieldInput) (*Field, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if in.Geometry != nil {
		if err := s.overlap.Ensure(ctx, in.Geometry, "", ownerID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	f := Field{ID: uuid.NewString(), UserID: ownerID, CreatedAt: now}
	apply(&f, in, now)
	if err := s.repo.CreateField(ctx, f); err != nil {
		return nil, fmt.Errorf("storing field: %w", err)
	}
	s.log.Info("field created", "field_id", f.ID, "owner_id", ownerID)

	if in.Geometry != nil {
		s.recompute(ctx, f.ID)
	}
	s.publish(ctx, "created", &f)
	return &f, nil
}

// Update replaces a field's attributes and geometry. Only the owner may
// update; anyone else gets ErrFieldNotFound.
func (s *FieldService) Update(ctx context.Context, actorID, id string, in FieldInput) (*Field, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.owned(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if in.Geometry != nil {
		if err := s.overlap.Ensure(ctx, in.Geometry, id, actorID); err != nil {
			return nil, err
		}
	}

	moved := !sameGeometry(f.Shape(), in.Geometry)
	apply(f, in, s.now())
	if err := s.repo.UpdateField(ctx, *f); err != nil {
		return nil, fmt.Errorf("updating field %s: %w", id, err)
	}
	s.log.Info("field updated", "field_id", id, "geometry_changed", moved)

	if moved {
		s.recompute(ctx, id)
	}
	s.publish(ctx, "updated", f)
	return f, nil
}

// Delete removes a field with its edges and permissions. Only the owner may
// delete.
func (s *FieldService) Delete(ctx context.Context, actorID, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	f, err := s.owned(ctx, actorID, id)
	if err != nil {
		return err
	}
	audience := s.audience(ctx, f)
	if err := s.repo.DeleteField(ctx, id); err != nil {
		return fmt.Errorf("deleting field %s: %w", id, err)
	}
	s.log.Info("field deleted", "field_id", id)
	s.bus.Publish(Event{Resource: "fields", Action: "deleted", ID: id, Users: audience})
	return nil
}

// Recompute rebuilds the adjacency of one of actorID's fields.
func (s *FieldService) Recompute(ctx context.Context, actorID, id string) ([]AdjacentFieldEdge, error) {
	if _, err := s.owned(ctx, actorID, id); err != nil {
		return nil, err
	}
	if err := s.proximity.RecomputeAdjacency(ctx, id); err != nil {
		return nil, err
	}
	return s.proximity.AdjacentFields(ctx, id)
}

func (s *FieldService) check(in FieldInput) error {
	if err := s.validate.Struct(in.FieldAttributes); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if in.Geometry != nil {
		if err := geometry.Validate(in.Geometry); err != nil {
			return err
		}
	}
	return nil
}

func (s *FieldService) owned(ctx context.Context, actorID, id string) (*Field, error) {
	f, err := s.repo.GetField(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.UserID != actorID {
		return nil, ErrFieldNotFound
	}
	return f, nil
}

// recompute refreshes adjacency after a write. The write itself has already
// been stored, so failures are logged rather than returned.
func (s *FieldService) recompute(ctx context.Context, id string) {
	if err := s.proximity.RefreshAdjacency(ctx, id); err != nil {
		s.log.Error("adjacency recompute failed", "field_id", id, "error", err)
	}
}

func (s *FieldService) publish(ctx context.Context, action string, f *Field) {
	s.bus.Publish(Event{Resource: "fields", Action: action, ID: f.ID, Users: s.audience(ctx, f)})
}

// audience is the owner of f plus the owners of its adjacent fields.
func (s *FieldService) audience(ctx context.Context, f *Field) []string {
	users := []string{f.UserID}
	seen := map[string]bool{f.UserID: true}
	edges, err := s.repo.GetAdjacentFieldEdges(ctx, f.ID)
	if err != nil {
		return users
	}
	for _, e := range edges {
		n, err := s.repo.GetField(ctx, e.Other(f.ID))
		if err != nil || seen[n.UserID] {
			continue
		}
		seen[n.UserID] = true
		users = append(users, n.UserID)
	}
	return users
}

func apply(f *Field, in FieldInput, now time.Time) {
	a := in.FieldAttributes
	f.Name = a.Name
	f.Crop = a.Crop
	f.SprayTypes = a.SprayTypes
	f.Variety = a.Variety
	f.Season = a.Season
	f.Status = a.Status
	f.Acres = a.Acres
	f.Notes = a.Notes
	f.Geometry = nil
	if in.Geometry != nil {
		f.Geometry = geojson.NewGeometry(in.Geometry)
	}
	f.UpdatedAt = now
}

func sameGeometry(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return orb.Equal(a, b)
}
