// Package api defines the Huma API routes and handlers.
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-fields/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Fields      *service.FieldService
	Proximity   *service.ProximityEngine
	Overlap     *service.OverlapValidator
	Permissions *service.PermissionService
	Access      *service.AccessProjector
	Providers   *service.ProviderAccessService
	Users       service.UserStore
	Bus         *service.EventBus
	Stats       StatsSource
}

// Caller identifies the authenticated user. Authentication happens upstream;
// the gateway forwards the user id in X-User-ID.
type Caller struct {
	UserID string `header:"X-User-ID" required:"true" minLength:"1" doc:"Authenticated user id set by the gateway"`
}

type IDInput struct {
	Caller
	ID string `path:"id" doc:"Resource ID"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every route of the field API.
func RegisterRoutes(api huma.API, svc *Services) {
	h := NewAPIHandler(svc)
	h.RegisterHealth(api)
	h.RegisterFields(api)
	h.RegisterDiscovery(api)
	h.RegisterPermissions(api)
	h.RegisterProviderAccess(api)
	h.RegisterUsers(api)
	h.RegisterTiles(api)
	h.RegisterEvents(api)
	h.RegisterStats(api)
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterFields registers field CRUD and adjacency routes.
func (h *APIHandler) RegisterFields(api huma.API) {
	huma.Get(api, "/api/v1/fields", h.ListFields, huma.OperationTags("fields"))
	huma.Post(api, "/api/v1/fields", h.CreateField, huma.OperationTags("fields"), createdStatus)
	huma.Post(api, "/api/v1/fields/check-overlap", h.CheckOverlap, huma.OperationTags("fields"))
	huma.Get(api, "/api/v1/fields/{id}", h.GetField, huma.OperationTags("fields"))
	huma.Put(api, "/api/v1/fields/{id}", h.PutField, huma.OperationTags("fields"))
	huma.Delete(api, "/api/v1/fields/{id}", h.DeleteField, huma.OperationTags("fields"))
	huma.Get(api, "/api/v1/fields/{id}/adjacent", h.GetAdjacent, huma.OperationTags("fields"))
	huma.Post(api, "/api/v1/fields/{id}/adjacency", h.RecomputeAdjacency, huma.OperationTags("fields"))
	huma.Post(api, "/api/v1/fields/{id}/access-requests", h.RequestAccess, huma.OperationTags("permissions"))
}

// RegisterDiscovery registers the nearby search.
func (h *APIHandler) RegisterDiscovery(api huma.API) {
	huma.Get(api, "/api/v1/nearby", h.Nearby, huma.OperationTags("fields"))
}

// RegisterPermissions registers visibility permission routes.
func (h *APIHandler) RegisterPermissions(api huma.API) {
	huma.Get(api, "/api/v1/permissions", h.ListPermissions, huma.OperationTags("permissions"))
	huma.Post(api, "/api/v1/permissions/{id}/respond", h.RespondPermission, huma.OperationTags("permissions"))
	huma.Post(api, "/api/v1/permissions/{id}/revoke", h.RevokePermission, huma.OperationTags("permissions"))
}

// RegisterProviderAccess registers service provider grant routes.
func (h *APIHandler) RegisterProviderAccess(api huma.API) {
	huma.Get(api, "/api/v1/provider-access", h.ListProviderAccess, huma.OperationTags("provider-access"))
	huma.Post(api, "/api/v1/provider-access", h.GrantProviderAccess, huma.OperationTags("provider-access"), createdStatus)
	huma.Post(api, "/api/v1/provider-access/requests", h.RequestProviderAccess, huma.OperationTags("provider-access"))
	huma.Post(api, "/api/v1/provider-access/{id}/respond", h.RespondProviderAccess, huma.OperationTags("provider-access"))
	huma.Post(api, "/api/v1/provider-access/{id}/revoke", h.RevokeProviderAccess, huma.OperationTags("provider-access"))
}

// RegisterUsers registers user directory routes.
func (h *APIHandler) RegisterUsers(api huma.API) {
	huma.Put(api, "/api/v1/users/me", h.PutMe, huma.OperationTags("users"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}
