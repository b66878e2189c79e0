package api

import (
	"context"

	"github.com/joeblew999/plat-fields/internal/service"
)

type UserBody struct {
	Name string `json:"name" minLength:"1" maxLength:"100" doc:"Display name shown in notifications" example:"Ada Lovelace"`
}

func (h *APIHandler) PutMe(ctx context.Context, input *struct {
	Caller
	Body UserBody
}) (*struct{ Body service.User }, error) {
	u := service.User{ID: input.UserID, Name: input.Body.Name}
	if err := h.svc.Users.UpsertUser(ctx, u); err != nil {
		return nil, problem(err)
	}
	return &struct{ Body service.User }{Body: u}, nil
}
