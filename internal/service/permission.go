package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-fields/internal/logger"
)

// PermissionService runs the visibility permission workflow:
//
//	request:  none -> pending, denied -> pending, otherwise unchanged
//	respond:  pending -> approved | denied (owner only)
//	revoke:   approved -> revoked (owner only)
//	grant:    any non-granting state -> auto_granted (system only)
//
// Request and respond notify the counterparty through the NotificationPort
// after the transition is stored.
type PermissionService struct {
	repo     Repository
	notifier NotificationPort
	bus      *EventBus
	log      logger.Logger
	metrics  *Metrics
	now      Clock
}

// NewPermissionService creates the permission workflow.
func NewPermissionService(repo Repository, notifier NotificationPort, bus *EventBus, log logger.Logger, metrics *Metrics) *PermissionService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &PermissionService{
		repo:     repo,
		notifier: notifier,
		bus:      bus,
		log:      log.With("component", "permissions"),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Request asks the owner of ownerFieldID for access on behalf of
// viewerUserID. viewerFieldID optionally names the requester's neighbouring
// field.
func (s *PermissionService) Request(ctx context.Context, viewerUserID, ownerFieldID, viewerFieldID string) (*FieldVisibilityPermission, error) {
	field, err := s.repo.GetField(ctx, ownerFieldID)
	if err != nil {
		return nil, err
	}
	if field.UserID == viewerUserID {
		return nil, validationError("cannot request access to your own field")
	}
	if viewerFieldID != "" {
		vf, err := s.repo.GetField(ctx, viewerFieldID)
		if err != nil || vf.UserID != viewerUserID {
			return nil, validationError("viewer field %q is not yours", viewerFieldID)
		}
	}

	now := s.now()
	perm, created, err := s.repo.GetOrCreatePermission(ctx, FieldVisibilityPermission{
		ID:            uuid.NewString(),
		OwnerFieldID:  field.ID,
		OwnerUserID:   field.UserID,
		ViewerUserID:  viewerUserID,
		ViewerFieldID: viewerFieldID,
		Status:        PermissionPending,
		GrantSource:   GrantManual,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting access to %s: %w", ownerFieldID, err)
	}

	switch {
	case created:
		s.metrics.transition("", PermissionPending)
	case perm.Status == PermissionDenied:
		id := perm.ID
		perm, err = s.repo.UpdatePermissionStatus(ctx, id, PermissionDenied, PermissionPending, now)
		if errors.Is(err, ErrInvalidTransition) {
			// Reopened or decided concurrently; report the row as it is now.
			return s.repo.GetPermission(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("reopening permission %s: %w", id, err)
		}
		s.metrics.transition(PermissionDenied, PermissionPending)
	default:
		return perm, nil
	}

	s.log.Info("access requested", "permission_id", perm.ID, "field_id", field.ID, "viewer_id", viewerUserID)
	s.bus.Publish(Event{Resource: "permissions", Action: "requested", ID: perm.ID, Users: []string{field.UserID, viewerUserID}})
	s.notifier.NotifyAccessRequested(field.UserID, s.displayName(ctx, viewerUserID), field.Name)
	return perm, nil
}

// Respond records the owner's decision on a pending permission. decision
// must be approved or denied.
func (s *PermissionService) Respond(ctx context.Context, actorUserID, permissionID string, decision PermissionStatus) (*FieldVisibilityPermission, error) {
	if decision != PermissionApproved && decision != PermissionDenied {
		return nil, validationError("decision must be approved or denied, got %q", decision)
	}
	perm, field, err := s.authorize(ctx, actorUserID, permissionID)
	if err != nil {
		return nil, err
	}
	if perm.Status != PermissionPending {
		return nil, &TransitionError{From: string(perm.Status), Action: "respond to"}
	}

	updated, err := s.repo.UpdatePermissionStatus(ctx, perm.ID, PermissionPending, decision, s.now())
	if errors.Is(err, ErrInvalidTransition) {
		return nil, lostTransition(err, "", "respond to")
	}
	if err != nil {
		return nil, fmt.Errorf("updating permission %s: %w", perm.ID, err)
	}
	s.metrics.transition(perm.Status, decision)

	s.log.Info("access decided", "permission_id", perm.ID, "status", decision)
	s.bus.Publish(Event{Resource: "permissions", Action: string(decision), ID: perm.ID, Users: []string{perm.OwnerUserID, perm.ViewerUserID}})
	s.notifier.NotifyAccessDecided(perm.ViewerUserID, s.displayName(ctx, actorUserID), field.Name, decision == PermissionApproved)
	return updated, nil
}

// Revoke withdraws an approved permission.
func (s *PermissionService) Revoke(ctx context.Context, actorUserID, permissionID string) (*FieldVisibilityPermission, error) {
	perm, _, err := s.authorize(ctx, actorUserID, permissionID)
	if err != nil {
		return nil, err
	}
	if perm.Status != PermissionApproved {
		return nil, &TransitionError{From: string(perm.Status), Action: "revoke"}
	}
	updated, err := s.repo.UpdatePermissionStatus(ctx, perm.ID, PermissionApproved, PermissionRevoked, s.now())
	if errors.Is(err, ErrInvalidTransition) {
		return nil, lostTransition(err, "", "revoke")
	}
	if err != nil {
		return nil, fmt.Errorf("revoking permission %s: %w", perm.ID, err)
	}
	s.metrics.transition(perm.Status, PermissionRevoked)

	s.log.Info("access revoked", "permission_id", perm.ID)
	s.bus.Publish(Event{Resource: "permissions", Action: "revoked", ID: perm.ID, Users: []string{perm.OwnerUserID, perm.ViewerUserID}})
	return updated, nil
}

// AutoGrant gives viewerUserID access to ownerFieldID without owner action.
// It is reachable from system code only, never from the HTTP API.
func (s *PermissionService) AutoGrant(ctx context.Context, viewerUserID, ownerFieldID string, source GrantSource) (*FieldVisibilityPermission, error) {
	if source != GrantSystem && source != GrantAutoOnSignup {
		return nil, validationError("auto grants must come from system or auto_on_signup, got %q", source)
	}
	field, err := s.repo.GetField(ctx, ownerFieldID)
	if err != nil {
		return nil, err
	}
	if field.UserID == viewerUserID {
		return nil, validationError("owner already has full access")
	}

	now := s.now()
	perm, created, err := s.repo.GetOrCreatePermission(ctx, FieldVisibilityPermission{
		ID:           uuid.NewString(),
		OwnerFieldID: field.ID,
		OwnerUserID:  field.UserID,
		ViewerUserID: viewerUserID,
		Status:       PermissionAutoGranted,
		GrantSource:  source,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("auto-granting %s: %w", ownerFieldID, err)
	}
	if created {
		s.metrics.transition("", PermissionAutoGranted)
	} else if !perm.Status.Grants() {
		from := perm.Status
		perm, err = s.repo.UpdatePermissionStatus(ctx, perm.ID, from, PermissionAutoGranted, now)
		if errors.Is(err, ErrInvalidTransition) {
			return nil, lostTransition(err, "", "auto-grant")
		}
		if err != nil {
			return nil, fmt.Errorf("auto-granting %s: %w", ownerFieldID, err)
		}
		s.metrics.transition(from, PermissionAutoGranted)
	} else {
		return perm, nil
	}

	s.log.Info("access auto-granted", "permission_id", perm.ID, "source", source)
	s.bus.Publish(Event{Resource: "permissions", Action: "auto_granted", ID: perm.ID, Users: []string{field.UserID, viewerUserID}})
	return perm, nil
}

// List returns the permissions on the user's fields and the permissions the
// user holds on others' fields.
func (s *PermissionService) List(ctx context.Context, userID string) (incoming, outgoing []FieldVisibilityPermission, err error) {
	incoming, err = s.repo.ListPermissionsByOwner(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing incoming permissions: %w", err)
	}
	outgoing, err = s.repo.ListPermissionsByViewer(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing outgoing permissions: %w", err)
	}
	return incoming, outgoing, nil
}

// authorize loads a permission and checks that actorUserID owns its field.
// Every failure collapses into ErrPermissionNotFoundOrUnauthorized.
func (s *PermissionService) authorize(ctx context.Context, actorUserID, permissionID string) (*FieldVisibilityPermission, *Field, error) {
	perm, err := s.repo.GetPermission(ctx, permissionID)
	if err != nil {
		if errors.Is(err, ErrPermissionNotFoundOrUnauthorized) {
			return nil, nil, ErrPermissionNotFoundOrUnauthorized
		}
		return nil, nil, fmt.Errorf("loading permission: %w", err)
	}
	field, err := s.repo.GetField(ctx, perm.OwnerFieldID)
	if err != nil {
		if errors.Is(err, ErrFieldNotFound) {
			return nil, nil, ErrPermissionNotFoundOrUnauthorized
		}
		return nil, nil, fmt.Errorf("loading field: %w", err)
	}
	if field.UserID != actorUserID {
		return nil, nil, ErrPermissionNotFoundOrUnauthorized
	}
	return perm, field, nil
}

func (s *PermissionService) displayName(ctx context.Context, userID string) string {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil || u.Name == "" {
		return userID
	}
	return u.Name
}

type nopNotifier struct{}

func (nopNotifier) NotifyAccessRequested(string, string, string)     {}
func (nopNotifier) NotifyAccessDecided(string, string, string, bool) {}
