package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/joeblew999/plat-fields/internal/logger"
)

// ProviderGrantInput describes a farmer-level grant to a service provider.
type ProviderGrantInput struct {
	ServiceProviderID string             `json:"serviceProviderId" validate:"required" doc:"User id of the service account"`
	AccessType        ProviderAccessType `json:"accessType" validate:"required,oneof=all_fields specific_fields" enum:"all_fields,specific_fields"`
	FieldIDs          []string           `json:"fieldIds,omitempty" validate:"required_if=AccessType specific_fields,dive,required" doc:"Fields covered by a specific_fields grant"`
	Permissions       []string           `json:"permissions,omitempty" validate:"dive,required,max=64" doc:"Capability tags"`
	Season            string             `json:"season,omitempty" validate:"omitempty,len=4,numeric" doc:"Restrict the grant to one season"`
	ExpiresAt         *time.Time         `json:"expiresAt,omitempty" doc:"Grant is inactive from this instant"`
}

// ProviderAccessService manages service provider grants. Grants are owned by
// the farmer; providers may ask for one, farmers grant, decide and revoke.
type ProviderAccessService struct {
	repo     Repository
	bus      *EventBus
	log      logger.Logger
	validate *validator.Validate
	now      Clock
}

// NewProviderAccessService creates the provider grant workflow.
func NewProviderAccessService(repo Repository, bus *EventBus, log logger.Logger) *ProviderAccessService {
	return &ProviderAccessService{
		repo:     repo,
		bus:      bus,
		log:      log.With("component", "provider-access"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Grant records an approved grant from farmerID.
func (s *ProviderAccessService) Grant(ctx context.Context, farmerID string, in ProviderGrantInput) (*ServiceProviderAccess, error) {
	a, err := s.build(ctx, farmerID, in, ProviderApproved)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, a, "granted")
}

// RequestAccess records a pending grant asked for by a provider. The farmer
// must approve it before it has any effect.
func (s *ProviderAccessService) RequestAccess(ctx context.Context, providerID, farmerID string, in ProviderGrantInput) (*ServiceProviderAccess, error) {
	if in.ServiceProviderID != "" && in.ServiceProviderID != providerID {
		return nil, validationError("serviceProviderId must be the caller")
	}
	in.ServiceProviderID = providerID
	if _, err := s.repo.GetUser(ctx, farmerID); err != nil {
		return nil, err
	}
	a, err := s.build(ctx, farmerID, in, ProviderPending)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, a, "requested")
}

// Respond approves or denies a pending grant on behalf of its farmer.
func (s *ProviderAccessService) Respond(ctx context.Context, farmerID, id string, decision ProviderAccessStatus) (*ServiceProviderAccess, error) {
	if decision != ProviderApproved && decision != ProviderDenied {
		return nil, validationError("decision must be approved or denied, got %q", decision)
	}
	return s.transition(ctx, farmerID, id, ProviderPending, decision, "respond to")
}

// Revoke withdraws an approved grant.
func (s *ProviderAccessService) Revoke(ctx context.Context, farmerID, id string) (*ServiceProviderAccess, error) {
	return s.transition(ctx, farmerID, id, ProviderApproved, ProviderRevoked, "revoke")
}

// List returns the grants the user has given as a farmer and received as a
// provider.
func (s *ProviderAccessService) List(ctx context.Context, userID string) (given, received []ServiceProviderAccess, err error) {
	given, err = s.repo.ListServiceProviderAccessByFarmer(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing given grants: %w", err)
	}
	received, err = s.repo.ListServiceProviderAccessByProvider(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing received grants: %w", err)
	}
	return given, received, nil
}

func (s *ProviderAccessService) build(ctx context.Context, farmerID string, in ProviderGrantInput, status ProviderAccessStatus) (ServiceProviderAccess, error) {
	if err := s.validate.Struct(in); err != nil {
		return ServiceProviderAccess{}, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if in.ServiceProviderID == farmerID {
		return ServiceProviderAccess{}, validationError("cannot grant provider access to yourself")
	}
	if in.AccessType == ProviderSpecificFields && len(in.FieldIDs) == 0 {
		return ServiceProviderAccess{}, validationError("specific_fields grants need at least one field id")
	}
	if in.AccessType == ProviderAllFields && len(in.FieldIDs) > 0 {
		return ServiceProviderAccess{}, validationError("fieldIds only apply to specific_fields grants")
	}
	for _, id := range in.FieldIDs {
		f, err := s.repo.GetField(ctx, id)
		if err != nil && !errors.Is(err, ErrFieldNotFound) {
			return ServiceProviderAccess{}, err
		}
		if err != nil || f.UserID != farmerID {
			return ServiceProviderAccess{}, validationError("field %q does not belong to the farmer", id)
		}
	}

	now := s.now()
	return ServiceProviderAccess{
		ID:                uuid.NewString(),
		FarmerID:          farmerID,
		ServiceProviderID: in.ServiceProviderID,
		AccessType:        in.AccessType,
		FieldIDs:          in.FieldIDs,
		Status:            status,
		Permissions:       in.Permissions,
		Season:            in.Season,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *ProviderAccessService) create(ctx context.Context, a ServiceProviderAccess, action string) (*ServiceProviderAccess, error) {
	if err := s.repo.CreateServiceProviderAccess(ctx, a); err != nil {
		return nil, fmt.Errorf("storing provider access: %w", err)
	}
	s.log.Info("provider access "+action, "access_id", a.ID, "farmer_id", a.FarmerID, "provider_id", a.ServiceProviderID)
	s.bus.Publish(Event{Resource: "provider-access", Action: action, ID: a.ID, Users: []string{a.FarmerID, a.ServiceProviderID}})
	return &a, nil
}

func (s *ProviderAccessService) transition(ctx context.Context, farmerID, id string, from, to ProviderAccessStatus, action string) (*ServiceProviderAccess, error) {
	a, err := s.repo.GetServiceProviderAccess(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.FarmerID != farmerID {
		return nil, ErrProviderAccessNotFound
	}
	if a.Status != from {
		return nil, &TransitionError{Kind: "provider access", From: string(a.Status), Action: action}
	}
	updated, err := s.repo.UpdateServiceProviderAccessStatus(ctx, id, from, to, s.now())
	if errors.Is(err, ErrInvalidTransition) {
		return nil, lostTransition(err, "provider access", action)
	}
	if err != nil {
		return nil, fmt.Errorf("updating provider access %s: %w", id, err)
	}
	s.log.Info("provider access updated", "access_id", id, "status", to)
	s.bus.Publish(Event{Resource: "provider-access", Action: string(to), ID: id, Users: []string{a.FarmerID, a.ServiceProviderID}})
	return updated, nil
}
