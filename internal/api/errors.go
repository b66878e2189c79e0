package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-fields/internal/geometry"
	"github.com/joeblew999/plat-fields/internal/service"
)

// problem maps a service error onto an HTTP error. Permission lookups and
// authorization failures share one 404 so callers cannot enumerate ids.
func problem(err error) error {
	var (
		geomErr    *geometry.Error
		conflict   *service.OverlapConflictError
		transition *service.TransitionError
		status     huma.StatusError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &status):
		return err
	case errors.As(err, &geomErr):
		return huma.Error422UnprocessableEntity(geomErr.Error(), &huma.ErrorDetail{
			Message:  geomErr.Reason,
			Location: "body.geometry",
		})
	case errors.Is(err, service.ErrValidation):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.As(err, &conflict):
		details := make([]error, 0, len(conflict.FieldNames))
		for _, name := range conflict.FieldNames {
			details = append(details, &huma.ErrorDetail{
				Message:  "overlaps existing field",
				Location: "body.geometry",
				Value:    name,
			})
		}
		return huma.Error409Conflict(conflict.Error(), details...)
	case errors.As(err, &transition):
		return huma.Error409Conflict(transition.Error())
	case errors.Is(err, service.ErrPermissionNotFoundOrUnauthorized):
		return huma.Error404NotFound("permission not found")
	case errors.Is(err, service.ErrFieldNotFound):
		return huma.Error404NotFound("field not found")
	case errors.Is(err, service.ErrProviderAccessNotFound):
		return huma.Error404NotFound("provider access not found")
	case errors.Is(err, service.ErrUserNotFound):
		return huma.Error404NotFound("user not found")
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
