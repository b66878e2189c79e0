package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-fields/internal/tiles"
)

type TileInput struct {
	Caller
	Z int `path:"z" minimum:"0" maximum:"22" doc:"Zoom"`
	X int `path:"x" minimum:"0" doc:"Column"`
	Y int `path:"y" minimum:"0" doc:"Row"`
}

type TileOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// RegisterTiles registers the per-viewer vector tile route.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/map/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("map"))
}

// GetTile renders the caller's map list into one tile. Tiles differ per
// viewer, so they are never shared by caches.
func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	tile, err := tiles.Parse(input.Z, input.X, input.Y)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	views, err := h.svc.Access.ListForMap(ctx, input.UserID)
	if err != nil {
		return nil, problem(err)
	}
	data, err := tiles.Encode(tile, views)
	if err != nil {
		return nil, problem(err)
	}
	return &TileOutput{ContentType: tiles.ContentType, CacheControl: "private, no-store", Body: data}, nil
}
