package api

import (
	"context"

	"github.com/joeblew999/plat-fields/internal/service"
)

type PermissionOutput struct {
	Body service.FieldVisibilityPermission
}

type PermissionsBody struct {
	Incoming []service.FieldVisibilityPermission `json:"incoming" doc:"Requests for the caller's fields"`
	Outgoing []service.FieldVisibilityPermission `json:"outgoing" doc:"Requests made by the caller"`
}

type RespondPermissionInput struct {
	IDInput
	Body struct {
		Status service.PermissionStatus `json:"status" enum:"approved,denied" doc:"Decision"`
	}
}

func (h *APIHandler) ListPermissions(ctx context.Context, input *Caller) (*struct{ Body PermissionsBody }, error) {
	incoming, outgoing, err := h.svc.Permissions.List(ctx, input.UserID)
	if err != nil {
		return nil, problem(err)
	}
	body := PermissionsBody{Incoming: incoming, Outgoing: outgoing}
	if body.Incoming == nil {
		body.Incoming = []service.FieldVisibilityPermission{}
	}
	if body.Outgoing == nil {
		body.Outgoing = []service.FieldVisibilityPermission{}
	}
	return &struct{ Body PermissionsBody }{Body: body}, nil
}

func (h *APIHandler) RespondPermission(ctx context.Context, input *RespondPermissionInput) (*PermissionOutput, error) {
	p, err := h.svc.Permissions.Respond(ctx, input.UserID, input.ID, input.Body.Status)
	if err != nil {
		return nil, problem(err)
	}
	return &PermissionOutput{Body: *p}, nil
}

func (h *APIHandler) RevokePermission(ctx context.Context, input *IDInput) (*PermissionOutput, error) {
	p, err := h.svc.Permissions.Revoke(ctx, input.UserID, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return &PermissionOutput{Body: *p}, nil
}
