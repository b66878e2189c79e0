package service

import (
	"context"
	"time"

	"github.com/paulmach/orb"
)

// FieldStore persists fields. Lookups of unknown ids return ErrFieldNotFound.
type FieldStore interface {
	GetField(ctx context.Context, id string) (*Field, error)
	GetFieldsByUser(ctx context.Context, userID string) ([]Field, error)
	GetAllFieldsExcept(ctx context.Context, userID string) ([]Field, error)
	// ListFieldsPage returns up to limit fields ordered by id, starting
	// after afterID. An empty afterID starts from the beginning.
	ListFieldsPage(ctx context.Context, afterID string, limit int) ([]Field, error)
	CreateField(ctx context.Context, f Field) error
	UpdateField(ctx context.Context, f Field) error
	// DeleteField removes the field together with its edges and permission
	// rows.
	DeleteField(ctx context.Context, id string) error
}

// EdgeStore persists adjacency edges.
type EdgeStore interface {
	CreateAdjacentFieldEdge(ctx context.Context, e AdjacentFieldEdge) error
	// DeleteAdjacentFieldEdgesFor removes every edge where fieldID is either
	// side.
	DeleteAdjacentFieldEdgesFor(ctx context.Context, fieldID string) error
	// GetAdjacentFieldEdges returns every edge where fieldID is either side.
	GetAdjacentFieldEdges(ctx context.Context, fieldID string) ([]AdjacentFieldEdge, error)
}

// PermissionStore persists visibility permissions. Unknown ids return
// ErrPermissionNotFoundOrUnauthorized.
type PermissionStore interface {
	// GetOrCreatePermission returns the row for (p.OwnerFieldID,
	// p.ViewerUserID) if one exists, otherwise inserts p. created reports
	// whether p was inserted.
	GetOrCreatePermission(ctx context.Context, p FieldVisibilityPermission) (perm *FieldVisibilityPermission, created bool, err error)
	GetPermission(ctx context.Context, id string) (*FieldVisibilityPermission, error)
	// FindPermission returns nil, nil when no row exists for the pair.
	FindPermission(ctx context.Context, ownerFieldID, viewerUserID string) (*FieldVisibilityPermission, error)
	// UpdatePermissionStatus moves a permission from status from to status
	// to. A row in any other status is left alone and a *StaleStatusError is
	// returned.
	UpdatePermissionStatus(ctx context.Context, id string, from, to PermissionStatus, at time.Time) (*FieldVisibilityPermission, error)
	ListPermissionsByOwner(ctx context.Context, ownerUserID string) ([]FieldVisibilityPermission, error)
	ListPermissionsByViewer(ctx context.Context, viewerUserID string) ([]FieldVisibilityPermission, error)
}

// ProviderAccessStore persists service provider grants. Unknown ids return
// ErrProviderAccessNotFound.
type ProviderAccessStore interface {
	GetServiceProviderAccessBetween(ctx context.Context, farmerID, providerID string) ([]ServiceProviderAccess, error)
	CreateServiceProviderAccess(ctx context.Context, a ServiceProviderAccess) error
	GetServiceProviderAccess(ctx context.Context, id string) (*ServiceProviderAccess, error)
	// UpdateServiceProviderAccessStatus is a compare-and-set like
	// UpdatePermissionStatus.
	UpdateServiceProviderAccessStatus(ctx context.Context, id string, from, to ProviderAccessStatus, at time.Time) (*ServiceProviderAccess, error)
	ListServiceProviderAccessByFarmer(ctx context.Context, farmerID string) ([]ServiceProviderAccess, error)
	ListServiceProviderAccessByProvider(ctx context.Context, providerID string) ([]ServiceProviderAccess, error)
}

// UserStore is the minimal user directory. Unknown ids return
// ErrUserNotFound.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, u User) error
}

// Repository is everything the core needs from persistence.
type Repository interface {
	FieldStore
	EdgeStore
	PermissionStore
	ProviderAccessStore
	UserStore
}

// SpatialIndex is implemented by repositories that can answer overlap
// queries natively. Returned fields conflict with g by areal overlap or
// containment in either direction.
type SpatialIndex interface {
	FindOverlapping(ctx context.Context, g orb.Geometry, excludeFieldID string) ([]Field, error)
}

// NotificationPort delivers workflow notifications. Implementations must not
// block the caller for delivery and must swallow their own failures.
type NotificationPort interface {
	NotifyAccessRequested(ownerUserID, requesterName, fieldName string)
	NotifyAccessDecided(viewerUserID, ownerName, fieldName string, approved bool)
}

// Clock returns the current time.
type Clock func() time.Time
