package api

import (
	"context"

	"github.com/joeblew999/plat-fields/internal/service"
)

type ProviderAccessOutput struct {
	Body service.ServiceProviderAccess
}

type ProviderAccessBody struct {
	Given    []service.ServiceProviderAccess `json:"given" doc:"Grants the caller gave as a farmer"`
	Received []service.ServiceProviderAccess `json:"received" doc:"Grants the caller holds as a provider"`
}

type ProviderRequestBody struct {
	FarmerID string `json:"farmerId" required:"true" minLength:"1" doc:"Farmer whose fields are requested"`
	service.ProviderGrantInput
}

type RespondProviderAccessInput struct {
	IDInput
	Body struct {
		Status service.ProviderAccessStatus `json:"status" enum:"approved,denied" doc:"Decision"`
	}
}

func (h *APIHandler) ListProviderAccess(ctx context.Context, input *Caller) (*struct{ Body ProviderAccessBody }, error) {
	given, received, err := h.svc.Providers.List(ctx, input.UserID)
	if err != nil {
		return nil, problem(err)
	}
	body := ProviderAccessBody{Given: given, Received: received}
	if body.Given == nil {
		body.Given = []service.ServiceProviderAccess{}
	}
	if body.Received == nil {
		body.Received = []service.ServiceProviderAccess{}
	}
	return &struct{ Body ProviderAccessBody }{Body: body}, nil
}

func (h *APIHandler) GrantProviderAccess(ctx context.Context, input *struct {
	Caller
	Body service.ProviderGrantInput
}) (*ProviderAccessOutput, error) {
	a, err := h.svc.Providers.Grant(ctx, input.UserID, input.Body)
	if err != nil {
		return nil, problem(err)
	}
	return &ProviderAccessOutput{Body: *a}, nil
}

func (h *APIHandler) RequestProviderAccess(ctx context.Context, input *struct {
	Caller
	Body ProviderRequestBody
}) (*ProviderAccessOutput, error) {
	a, err := h.svc.Providers.RequestAccess(ctx, input.UserID, input.Body.FarmerID, input.Body.ProviderGrantInput)
	if err != nil {
		return nil, problem(err)
	}
	return &ProviderAccessOutput{Body: *a}, nil
}

func (h *APIHandler) RespondProviderAccess(ctx context.Context, input *RespondProviderAccessInput) (*ProviderAccessOutput, error) {
	a, err := h.svc.Providers.Respond(ctx, input.UserID, input.ID, input.Body.Status)
	if err != nil {
		return nil, problem(err)
	}
	return &ProviderAccessOutput{Body: *a}, nil
}

func (h *APIHandler) RevokeProviderAccess(ctx context.Context, input *IDInput) (*ProviderAccessOutput, error) {
	a, err := h.svc.Providers.Revoke(ctx, input.UserID, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	return &ProviderAccessOutput{Body: *a}, nil
}
