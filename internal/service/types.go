// Package service contains the business logic for plat-fields: adjacency,
// overlap validation, the visibility permission workflow and per-viewer field
// projection.
package service

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FieldStatus is the agronomic state of a field.
type FieldStatus string

const (
	StatusPlanted   FieldStatus = "planted"
	StatusGrowing   FieldStatus = "growing"
	StatusHarvested FieldStatus = "harvested"
	StatusFallow    FieldStatus = "fallow"
)

// SprayType is a herbicide-tolerance trait tag.
type SprayType string

const (
	SprayConventional SprayType = "conventional"
	SprayRoundupReady SprayType = "roundup_ready"
	SprayLibertyLink  SprayType = "liberty_link"
	SprayXtend        SprayType = "xtend"
	SprayEnlist       SprayType = "enlist"
	SprayClearfield   SprayType = "clearfield"
	SprayProvisia     SprayType = "provisia"
)

// Field is a farmed parcel owned by one user.
type Field struct {
	ID         string            `json:"id" doc:"Field identifier"`
	UserID     string            `json:"userId" doc:"Owning user"`
	Name       string            `json:"name" doc:"Display name"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty" doc:"GeoJSON Polygon or MultiPolygon"`
	Crop       string            `json:"crop,omitempty" doc:"Crop planted"`
	SprayTypes []SprayType       `json:"sprayTypes,omitempty" doc:"Herbicide-tolerance traits"`
	Variety    string            `json:"variety,omitempty" doc:"Seed variety"`
	Season     string            `json:"season,omitempty" doc:"Season year" example:"2026"`
	Status     FieldStatus       `json:"status,omitempty" doc:"planted, growing, harvested or fallow"`
	Acres      float64           `json:"acres,omitempty" doc:"Area in acres"`
	Notes      string            `json:"notes,omitempty" doc:"Owner-private notes"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Shape returns the field boundary, or nil when the field has none.
func (f *Field) Shape() orb.Geometry {
	if f == nil || f.Geometry == nil {
		return nil
	}
	return f.Geometry.Geometry()
}

// AdjacentFieldEdge links two fields that touch or nearly touch. Rows are
// stored oriented from the field whose recompute produced them but are read
// as undirected.
type AdjacentFieldEdge struct {
	FieldID              string    `json:"fieldId"`
	AdjacentFieldID      string    `json:"adjacentFieldId"`
	DistanceMeters       float64   `json:"distance" doc:"Centroid to centroid distance in meters"`
	SharedBoundaryMeters float64   `json:"sharedBoundaryLength" doc:"Shared boundary length in meters, 0 if none"`
	Estimated            bool      `json:"estimated,omitempty" doc:"Shared boundary length is a perimeter-based estimate"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Other returns the id on the far side of the edge from fieldID.
func (e AdjacentFieldEdge) Other(fieldID string) string {
	if e.FieldID == fieldID {
		return e.AdjacentFieldID
	}
	return e.FieldID
}

// PermissionStatus is a state of the visibility permission workflow.
type PermissionStatus string

const (
	PermissionPending     PermissionStatus = "pending"
	PermissionApproved    PermissionStatus = "approved"
	PermissionDenied      PermissionStatus = "denied"
	PermissionRevoked     PermissionStatus = "revoked"
	PermissionAutoGranted PermissionStatus = "auto_granted"
)

// Grants reports whether the status currently grants access.
func (s PermissionStatus) Grants() bool {
	return s == PermissionApproved || s == PermissionAutoGranted
}

// GrantSource records how a permission came to exist.
type GrantSource string

const (
	GrantManual       GrantSource = "manual"
	GrantAutoOnSignup GrantSource = "auto_on_signup"
	GrantSystem       GrantSource = "system"
)

// FieldVisibilityPermission grants one viewer elevated access to one field.
type FieldVisibilityPermission struct {
	ID            string           `json:"id"`
	OwnerFieldID  string           `json:"ownerFieldId"`
	OwnerUserID   string           `json:"ownerUserId"`
	ViewerUserID  string           `json:"viewerUserId"`
	ViewerFieldID string           `json:"viewerFieldId,omitempty"`
	Status        PermissionStatus `json:"status" enum:"pending,approved,denied,revoked,auto_granted"`
	GrantSource   GrantSource      `json:"grantSource" enum:"manual,auto_on_signup,system"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// ProviderAccessType scopes a service provider grant.
type ProviderAccessType string

const (
	ProviderAllFields      ProviderAccessType = "all_fields"
	ProviderSpecificFields ProviderAccessType = "specific_fields"
)

// ProviderAccessStatus is the state of a service provider grant.
type ProviderAccessStatus string

const (
	ProviderPending  ProviderAccessStatus = "pending"
	ProviderApproved ProviderAccessStatus = "approved"
	ProviderDenied   ProviderAccessStatus = "denied"
	ProviderRevoked  ProviderAccessStatus = "revoked"
)

// ServiceProviderAccess is a farmer-level grant to a service account.
type ServiceProviderAccess struct {
	ID                string               `json:"id"`
	FarmerID          string               `json:"farmerId"`
	ServiceProviderID string               `json:"serviceProviderId"`
	AccessType        ProviderAccessType   `json:"accessType" enum:"all_fields,specific_fields"`
	FieldIDs          []string             `json:"fieldIds,omitempty" doc:"Fields covered by a specific_fields grant"`
	Status            ProviderAccessStatus `json:"status" enum:"pending,approved,denied,revoked"`
	Permissions       []string             `json:"permissions,omitempty" doc:"Capability tags"`
	Season            string               `json:"season,omitempty"`
	ExpiresAt         *time.Time           `json:"expiresAt,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

// Covers reports whether the grant is in force for field at time now.
// An approved grant past its expiry is inactive without any status change.
func (a ServiceProviderAccess) Covers(field *Field, now time.Time) bool {
	if a.Status != ProviderApproved {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	if field == nil || field.UserID != a.FarmerID {
		return false
	}
	if a.Season != "" && a.Season != field.Season {
		return false
	}
	if a.AccessType == ProviderSpecificFields {
		for _, id := range a.FieldIDs {
			if id == field.ID {
				return true
			}
		}
		return false
	}
	return a.AccessType == ProviderAllFields
}

// User is the minimal directory record used for notification texts.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccessLevel is the visibility tier a viewer has over a field.
type AccessLevel string

const (
	AccessOwner      AccessLevel = "owner"
	AccessApproved   AccessLevel = "approved"
	AccessRestricted AccessLevel = "restricted"
)

// FieldView is the response-safe projection of a Field for one viewer.
// Nil pointers render as JSON null.
type FieldView struct {
	ID          string            `json:"id"`
	AccessLevel AccessLevel       `json:"accessLevel" enum:"owner,approved,restricted"`
	Name        string            `json:"name"`
	UserID      *string           `json:"userId"`
	Geometry    *geojson.Geometry `json:"geometry"`
	Crop        string            `json:"crop"`
	SprayTypes  []SprayType       `json:"sprayTypes"`
	Variety     *string           `json:"variety"`
	Season      *string           `json:"season"`
	Status      *FieldStatus      `json:"status"`
	Acres       *float64          `json:"acres"`
	Notes       *string           `json:"notes"`
	CreatedAt   *time.Time        `json:"createdAt"`
	UpdatedAt   *time.Time        `json:"updatedAt"`
}

// NearbyField is a discovery result.
type NearbyField struct {
	Field          Field   `json:"field"`
	DistanceMeters float64 `json:"distance"`
}

// OverlapResult is the outcome of an overlap check.
type OverlapResult struct {
	HasOverlap            bool     `json:"hasOverlap"`
	OverlappingFieldNames []string `json:"overlappingFieldNames"`
	Method                string   `json:"method" doc:"spatial-index, exact or heuristic"`
}
