package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// StatsSource reports record counts of the active store.
type StatsSource interface {
	Counts(ctx context.Context) (map[string]int, error)
}

type StatsOutput struct {
	Body struct {
		Counts map[string]int `json:"counts" doc:"Records per collection"`
	}
}

// RegisterStats registers the store statistics route.
func (h *APIHandler) RegisterStats(api huma.API) {
	huma.Get(api, "/api/v1/stats", h.GetStats, huma.OperationTags("health"))
}

// GetStats returns the number of records per collection.
func (h *APIHandler) GetStats(ctx context.Context, input *struct{}) (*StatsOutput, error) {
	if h.svc.Stats == nil {
		return nil, huma.Error503ServiceUnavailable("Store statistics not available")
	}
	counts, err := h.svc.Stats.Counts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to count records", err)
	}
	out := &StatsOutput{}
	out.Body.Counts = counts
	return out, nil
}
