package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fields/internal/geometry"
	"github.com/joeblew999/plat-fields/internal/service"
)

// FieldBody is the create and update payload.
type FieldBody struct {
	service.FieldAttributes
	Geometry map[string]any `json:"geometry,omitempty" doc:"GeoJSON Polygon or MultiPolygon, as a geometry or a feature"`
}

func (b FieldBody) input() (service.FieldInput, error) {
	g, err := parseGeometry(b.Geometry)
	if err != nil {
		return service.FieldInput{}, err
	}
	return service.FieldInput{FieldAttributes: b.FieldAttributes, Geometry: g}, nil
}

type FieldViewOutput struct {
	Body service.FieldView
}

type FieldViewsOutput struct {
	Body []service.FieldView
}

type CheckOverlapBody struct {
	Geometry       map[string]any `json:"geometry" required:"true" doc:"Candidate boundary"`
	ExcludeFieldID string         `json:"excludeFieldId,omitempty" doc:"Field being edited, ignored in the check"`
}

type AdjacentBody struct {
	Edges  []service.AdjacentFieldEdge `json:"edges"`
	Fields []service.FieldView         `json:"fields" doc:"Neighbours, projected for the caller"`
}

type NearbyInput struct {
	Caller
	Lng      float64 `query:"lng" minimum:"-180" maximum:"180" doc:"Longitude of the search center"`
	Lat      float64 `query:"lat" minimum:"-90" maximum:"90" doc:"Latitude of the search center"`
	RadiusKm float64 `query:"radiusKm" minimum:"0" doc:"Search radius in km, 0 for the configured default"`
}

type NearbyView struct {
	Field          service.FieldView `json:"field"`
	DistanceMeters float64           `json:"distance" doc:"Centroid distance in meters"`
}

type AccessRequestInput struct {
	IDInput
	Body struct {
		ViewerFieldID string `json:"viewerFieldId,omitempty" doc:"Caller's own field that motivated the request"`
	}
}

func (h *APIHandler) ListFields(ctx context.Context, input *Caller) (*FieldViewsOutput, error) {
	views, err := h.svc.Access.ListForMap(ctx, input.UserID)
	if err != nil {
		return nil, problem(err)
	}
	return &FieldViewsOutput{Body: views}, nil
}

func (h *APIHandler) CreateField(ctx context.Context, input *struct {
	Caller
	Body FieldBody
}) (*FieldViewOutput, error) {
	in, err := input.Body.input()
	if err != nil {
		return nil, problem(err)
	}
	f, err := h.svc.Fields.Create(ctx, input.UserID, in)
	if err != nil {
		return nil, problem(err)
	}
	return &FieldViewOutput{Body: service.ProjectAs(f, service.AccessOwner)}, nil
}

func (h *APIHandler) CheckOverlap(ctx context.Context, input *struct {
	Caller
	Body CheckOverlapBody
}) (*struct{ Body service.OverlapResult }, error) {
	g, err := parseGeometry(input.Body.Geometry)
	if err != nil {
		return nil, problem(err)
	}
	res, err := h.svc.Overlap.CheckOverlap(ctx, g, input.Body.ExcludeFieldID, input.UserID)
	if err != nil {
		return nil, problem(err)
	}
	return &struct{ Body service.OverlapResult }{Body: res}, nil
}

func (h *APIHandler) GetField(ctx context.Context, input *IDInput) (*FieldViewOutput, error) {
	f, err := h.svc.Fields.Get(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	v, err := h.svc.Access.Project(ctx, f, input.UserID)
	if err != nil {
		return nil, problem(err)
	}
	return &FieldViewOutput{Body: v}, nil
}

func (h *APIHandler) PutField(ctx context.Context, input *struct {
	IDInput
	Body FieldBody
}) (*FieldViewOutput, error) {
	in, err := input.Body.input()
	if err != nil {
		return nil, problem(err)
	}
	f, err := h.svc.Fields.Update(ctx, input.UserID, input.ID, in)
	if err != nil {
		return nil, problem(err)
	}
	return &FieldViewOutput{Body: service.ProjectAs(f, service.AccessOwner)}, nil
}

func (h *APIHandler) DeleteField(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Fields.Delete(ctx, input.UserID, input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Field deleted"}}, nil
}

func (h *APIHandler) GetAdjacent(ctx context.Context, input *IDInput) (*struct{ Body AdjacentBody }, error) {
	if _, err := h.svc.Fields.Get(ctx, input.ID); err != nil {
		return nil, problem(err)
	}
	edges, err := h.svc.Proximity.AdjacentFields(ctx, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	body := AdjacentBody{Edges: edges, Fields: []service.FieldView{}}
	if body.Edges == nil {
		body.Edges = []service.AdjacentFieldEdge{}
	}
	for _, e := range edges {
		other, err := h.svc.Fields.Get(ctx, e.Other(input.ID))
		if err != nil {
			continue
		}
		v, err := h.svc.Access.Project(ctx, other, input.UserID)
		if err != nil {
			return nil, problem(err)
		}
		body.Fields = append(body.Fields, v)
	}
	return &struct{ Body AdjacentBody }{Body: body}, nil
}

func (h *APIHandler) RecomputeAdjacency(ctx context.Context, input *IDInput) (*struct{ Body []service.AdjacentFieldEdge }, error) {
	edges, err := h.svc.Fields.Recompute(ctx, input.UserID, input.ID)
	if err != nil {
		return nil, problem(err)
	}
	if edges == nil {
		edges = []service.AdjacentFieldEdge{}
	}
	return &struct{ Body []service.AdjacentFieldEdge }{Body: edges}, nil
}

func (h *APIHandler) RequestAccess(ctx context.Context, input *AccessRequestInput) (*PermissionOutput, error) {
	p, err := h.svc.Permissions.Request(ctx, input.UserID, input.ID, input.Body.ViewerFieldID)
	if err != nil {
		return nil, problem(err)
	}
	return &PermissionOutput{Body: *p}, nil
}

func (h *APIHandler) Nearby(ctx context.Context, input *NearbyInput) (*struct{ Body []NearbyView }, error) {
	found, err := h.svc.Proximity.FindNearbyFields(ctx, orb.Point{input.Lng, input.Lat}, input.RadiusKm)
	if err != nil {
		return nil, problem(err)
	}
	out := make([]NearbyView, 0, len(found))
	for i := range found {
		v, err := h.svc.Access.Project(ctx, &found[i].Field, input.UserID)
		if err != nil {
			return nil, problem(err)
		}
		out = append(out, NearbyView{Field: v, DistanceMeters: found[i].DistanceMeters})
	}
	return &struct{ Body []NearbyView }{Body: out}, nil
}

// parseGeometry re-encodes a decoded GeoJSON object and validates it as a
// field boundary. A nil object means no geometry.
func parseGeometry(raw map[string]any) (orb.Geometry, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid geometry payload", err)
	}
	return geometry.Parse(data)
}

func createdStatus(o *huma.Operation) {
	o.DefaultStatus = http.StatusCreated
}
