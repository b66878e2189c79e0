package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-fields/internal/config"
)

// Version is the API version reported by /health and /api/v1/info.
const Version = "0.1.0"

type InfoHandler struct {
	store        string
	spatialIndex bool
	policy       config.Policy
}

func NewInfoHandler(store string, spatialIndex bool, policy config.Policy) *InfoHandler {
	return &InfoHandler{store: store, spatialIndex: spatialIndex, policy: policy}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name         string        `json:"name" doc:"Service name"`
	Version      string        `json:"version" doc:"Service version"`
	Store        string        `json:"store" doc:"Active store backend" enum:"memory,duckdb"`
	SpatialIndex bool          `json:"spatial_index" doc:"Whether overlap checks use the database spatial index"`
	Policy       config.Policy `json:"policy" doc:"Adjacency and overlap policy in effect"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:         "plat-fields",
		Version:      Version,
		Store:        h.store,
		SpatialIndex: h.spatialIndex,
		Policy:       h.policy,
	}}, nil
}
