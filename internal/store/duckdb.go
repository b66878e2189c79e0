package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-fields/internal/service"
)

// DuckDB is a Repository backed by DuckDB. It answers overlap queries with
// the spatial extension.
type DuckDB struct {
	db *sql.DB
}

var (
	_ service.Repository   = (*DuckDB)(nil)
	_ service.SpatialIndex = (*DuckDB)(nil)
)

// NewDuckDB wraps an open connection whose schema has been applied.
func NewDuckDB(db *sql.DB) *DuckDB {
	return &DuckDB{db: db}
}

const fieldColumns = `id, user_id, name, geometry, crop, spray_types, variety, season, status, acres, notes, created_at, updated_at`

// Fields

func (s *DuckDB) GetField(ctx context.Context, id string) (*service.Field, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying field: %w", err)
	}
	fields, err := scanFields(rows)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, service.ErrFieldNotFound
	}
	return &fields[0], nil
}

func (s *DuckDB) GetFieldsByUser(ctx context.Context, userID string) ([]service.Field, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields WHERE user_id = ? ORDER BY id`, userID)
}

func (s *DuckDB) GetAllFieldsExcept(ctx context.Context, userID string) ([]service.Field, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields WHERE user_id <> ? ORDER BY id`, userID)
}

func (s *DuckDB) ListFieldsPage(ctx context.Context, afterID string, limit int) ([]service.Field, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
}

func (s *DuckDB) CreateField(ctx context.Context, f service.Field) error {
	args, err := fieldArgs(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fields (`+fieldColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("inserting field: %w", err)
	}
	return nil
}

func (s *DuckDB) UpdateField(ctx context.Context, f service.Field) error {
	args, err := fieldArgs(f)
	if err != nil {
		return err
	}
	// id moves to the WHERE clause; created_at is immutable.
	update := append(append([]any{}, args[1:11]...), args[12], f.ID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE fields SET user_id = ?, name = ?, geometry = ?, crop = ?, spray_types = ?, variety = ?,
			season = ?, status = ?, acres = ?, notes = ?, updated_at = ? WHERE id = ?`,
		update...)
	if err != nil {
		return fmt.Errorf("updating field: %w", err)
	}
	return expectOne(res, service.ErrFieldNotFound)
}

func (s *DuckDB) DeleteField(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting field: %w", err)
	}
	if err := expectOne(res, service.ErrFieldNotFound); err != nil {
		return err
	}
	cascade := []struct {
		stmt string
		args []any
	}{
		{`DELETE FROM adjacent_field_edges WHERE field_id = ? OR adjacent_field_id = ?`, []any{id, id}},
		{`DELETE FROM field_visibility_permissions WHERE owner_field_id = ?`, []any{id}},
		{`UPDATE field_visibility_permissions SET viewer_field_id = NULL WHERE viewer_field_id = ?`, []any{id}},
	}
	for _, c := range cascade {
		if _, err := tx.ExecContext(ctx, c.stmt, c.args...); err != nil {
			return fmt.Errorf("deleting field %s: %w", id, err)
		}
	}

	grants, err := s.queryAccess(ctx, tx, `SELECT `+accessColumns+` FROM service_provider_access WHERE field_ids LIKE ?`, `%"`+id+`"%`)
	if err != nil {
		return err
	}
	for _, a := range grants {
		ids, _ := json.Marshal(without(a.FieldIDs, id))
		if _, err := tx.ExecContext(ctx, `UPDATE service_provider_access SET field_ids = ? WHERE id = ?`, string(ids), a.ID); err != nil {
			return fmt.Errorf("updating provider access %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// FindOverlapping implements service.SpatialIndex.
func (s *DuckDB) FindOverlapping(ctx context.Context, g orb.Geometry, excludeFieldID string) ([]service.Field, error) {
	candidate, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return nil, fmt.Errorf("encoding candidate: %w", err)
	}
	return s.queryFields(ctx, `
		WITH c AS (SELECT ST_GeomFromGeoJSON(?) AS geom)
		SELECT `+prefixed("f.", fieldColumns)+`
		FROM fields f, c
		WHERE f.geometry IS NOT NULL AND f.id <> ?
		  AND (ST_Overlaps(ST_GeomFromGeoJSON(f.geometry), c.geom)
		    OR ST_Contains(ST_GeomFromGeoJSON(f.geometry), c.geom)
		    OR ST_Within(ST_GeomFromGeoJSON(f.geometry), c.geom))
		ORDER BY f.id`, string(candidate), excludeFieldID)
}

// Edges

func (s *DuckDB) CreateAdjacentFieldEdge(ctx context.Context, e service.AdjacentFieldEdge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adjacent_field_edges (field_id, adjacent_field_id, distance, shared_boundary_length, estimated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.FieldID, e.AdjacentFieldID, e.DistanceMeters, e.SharedBoundaryMeters, e.Estimated, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting edge: %w", err)
	}
	return nil
}

func (s *DuckDB) DeleteAdjacentFieldEdgesFor(ctx context.Context, fieldID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM adjacent_field_edges WHERE field_id = ? OR adjacent_field_id = ?`, fieldID, fieldID)
	if err != nil {
		return fmt.Errorf("deleting edges: %w", err)
	}
	return nil
}

func (s *DuckDB) GetAdjacentFieldEdges(ctx context.Context, fieldID string) ([]service.AdjacentFieldEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_id, adjacent_field_id, distance, shared_boundary_length, estimated, created_at
		 FROM adjacent_field_edges WHERE field_id = ? OR adjacent_field_id = ?`, fieldID, fieldID)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var out []service.AdjacentFieldEdge
	for rows.Next() {
		var e service.AdjacentFieldEdge
		if err := rows.Scan(&e.FieldID, &e.AdjacentFieldID, &e.DistanceMeters, &e.SharedBoundaryMeters, &e.Estimated, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Permissions

const permissionColumns = `id, owner_field_id, owner_user_id, viewer_user_id, viewer_field_id, status, grant_source, created_at, updated_at`

func (s *DuckDB) GetOrCreatePermission(ctx context.Context, p service.FieldVisibilityPermission) (*service.FieldVisibilityPermission, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO field_visibility_permissions (`+permissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		p.ID, p.OwnerFieldID, p.OwnerUserID, p.ViewerUserID, nullString(p.ViewerFieldID),
		string(p.Status), string(p.GrantSource), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	existing, err := s.FindPermission(ctx, p.OwnerFieldID, p.ViewerUserID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("permission for %s/%s vanished after insert", p.OwnerFieldID, p.ViewerUserID)
	}
	return existing, n == 1, nil
}

func (s *DuckDB) GetPermission(ctx context.Context, id string) (*service.FieldVisibilityPermission, error) {
	perms, err := s.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM field_visibility_permissions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, service.ErrPermissionNotFoundOrUnauthorized
	}
	return &perms[0], nil
}

func (s *DuckDB) FindPermission(ctx context.Context, ownerFieldID, viewerUserID string) (*service.FieldVisibilityPermission, error) {
	perms, err := s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM field_visibility_permissions WHERE owner_field_id = ? AND viewer_user_id = ?`,
		ownerFieldID, viewerUserID)
	if err != nil || len(perms) == 0 {
		return nil, err
	}
	return &perms[0], nil
}

func (s *DuckDB) UpdatePermissionStatus(ctx context.Context, id string, from, to service.PermissionStatus, at time.Time) (*service.FieldVisibilityPermission, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE field_visibility_permissions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at, id, string(from))
	if err != nil {
		return nil, fmt.Errorf("updating permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	current, err := s.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &service.StaleStatusError{Current: string(current.Status)}
	}
	return current, nil
}

func (s *DuckDB) ListPermissionsByOwner(ctx context.Context, ownerUserID string) ([]service.FieldVisibilityPermission, error) {
	return s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM field_visibility_permissions WHERE owner_user_id = ? ORDER BY id`, ownerUserID)
}

func (s *DuckDB) ListPermissionsByViewer(ctx context.Context, viewerUserID string) ([]service.FieldVisibilityPermission, error) {
	return s.queryPermissions(ctx,
		`SELECT `+permissionColumns+` FROM field_visibility_permissions WHERE viewer_user_id = ? ORDER BY id`, viewerUserID)
}

// Provider access

const accessColumns = `id, farmer_id, service_provider_id, access_type, field_ids, status, permissions, season, expires_at, created_at, updated_at`

func (s *DuckDB) GetServiceProviderAccessBetween(ctx context.Context, farmerID, providerID string) ([]service.ServiceProviderAccess, error) {
	return s.queryAccess(ctx, s.db,
		`SELECT `+accessColumns+` FROM service_provider_access WHERE farmer_id = ? AND service_provider_id = ? ORDER BY id`,
		farmerID, providerID)
}

func (s *DuckDB) CreateServiceProviderAccess(ctx context.Context, a service.ServiceProviderAccess) error {
	fieldIDs, err := json.Marshal(a.FieldIDs)
	if err != nil {
		return err
	}
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return err
	}
	var expires any
	if a.ExpiresAt != nil {
		expires = *a.ExpiresAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO service_provider_access (`+accessColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FarmerID, a.ServiceProviderID, string(a.AccessType), string(fieldIDs), string(a.Status),
		string(perms), nullString(a.Season), expires, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting provider access: %w", err)
	}
	return nil
}

func (s *DuckDB) GetServiceProviderAccess(ctx context.Context, id string) (*service.ServiceProviderAccess, error) {
	grants, err := s.queryAccess(ctx, s.db, `SELECT `+accessColumns+` FROM service_provider_access WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, service.ErrProviderAccessNotFound
	}
	return &grants[0], nil
}

func (s *DuckDB) UpdateServiceProviderAccessStatus(ctx context.Context, id string, from, to service.ProviderAccessStatus, at time.Time) (*service.ServiceProviderAccess, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_provider_access SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at, id, string(from))
	if err != nil {
		return nil, fmt.Errorf("updating provider access: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	current, err := s.GetServiceProviderAccess(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &service.StaleStatusError{Current: string(current.Status)}
	}
	return current, nil
}

func (s *DuckDB) ListServiceProviderAccessByFarmer(ctx context.Context, farmerID string) ([]service.ServiceProviderAccess, error) {
	return s.queryAccess(ctx, s.db,
		`SELECT `+accessColumns+` FROM service_provider_access WHERE farmer_id = ? ORDER BY id`, farmerID)
}

func (s *DuckDB) ListServiceProviderAccessByProvider(ctx context.Context, providerID string) ([]service.ServiceProviderAccess, error) {
	return s.queryAccess(ctx, s.db,
		`SELECT `+accessColumns+` FROM service_provider_access WHERE service_provider_id = ? ORDER BY id`, providerID)
}

// Users

func (s *DuckDB) GetUser(ctx context.Context, id string) (*service.User, error) {
	var u service.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func (s *DuckDB) UpsertUser(ctx context.Context, u service.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET name = excluded.name`, u.ID, u.Name)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// Counts returns the number of rows per table.
func (s *DuckDB) Counts(ctx context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, table := range []string{"fields", "adjacent_field_edges", "field_visibility_permissions", "service_provider_access", "users"} {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// row helpers

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *DuckDB) queryFields(ctx context.Context, query string, args ...any) ([]service.Field, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fields: %w", err)
	}
	return scanFields(rows)
}

func scanFields(rows *sql.Rows) ([]service.Field, error) {
	defer rows.Close()

	var out []service.Field
	for rows.Next() {
		var (
			f                                                  service.Field
			geom, crop, sprays, variety, season, status, notes sql.NullString
			acres                                              sql.NullFloat64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &geom, &crop, &sprays, &variety, &season, &status, &acres, &notes, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		if geom.Valid && geom.String != "" {
			g, err := geojson.UnmarshalGeometry([]byte(geom.String))
			if err != nil {
				return nil, fmt.Errorf("decoding geometry of field %s: %w", f.ID, err)
			}
			f.Geometry = g
		}
		if sprays.Valid && sprays.String != "" {
			if err := json.Unmarshal([]byte(sprays.String), &f.SprayTypes); err != nil {
				return nil, fmt.Errorf("decoding spray types of field %s: %w", f.ID, err)
			}
		}
		f.Crop = crop.String
		f.Variety = variety.String
		f.Season = season.String
		f.Status = service.FieldStatus(status.String)
		f.Acres = acres.Float64
		f.Notes = notes.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// fieldArgs returns the insert arguments in fieldColumns order.
func fieldArgs(f service.Field) ([]any, error) {
	var geom any
	if f.Geometry != nil {
		data, err := json.Marshal(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("encoding geometry: %w", err)
		}
		geom = string(data)
	}
	sprays, err := json.Marshal(f.SprayTypes)
	if err != nil {
		return nil, err
	}
	return []any{
		f.ID, f.UserID, f.Name, geom, nullString(f.Crop), string(sprays), nullString(f.Variety),
		nullString(f.Season), nullString(string(f.Status)), f.Acres, nullString(f.Notes), f.CreatedAt, f.UpdatedAt,
	}, nil
}

func (s *DuckDB) queryPermissions(ctx context.Context, query string, args ...any) ([]service.FieldVisibilityPermission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying permissions: %w", err)
	}
	defer rows.Close()

	var out []service.FieldVisibilityPermission
	for rows.Next() {
		var (
			p                   service.FieldVisibilityPermission
			viewerField         sql.NullString
			status, grantSource string
		)
		if err := rows.Scan(&p.ID, &p.OwnerFieldID, &p.OwnerUserID, &p.ViewerUserID, &viewerField, &status, &grantSource, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		p.ViewerFieldID = viewerField.String
		p.Status = service.PermissionStatus(status)
		p.GrantSource = service.GrantSource(grantSource)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DuckDB) queryAccess(ctx context.Context, q queryer, query string, args ...any) ([]service.ServiceProviderAccess, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying provider access: %w", err)
	}
	defer rows.Close()

	var out []service.ServiceProviderAccess
	for rows.Next() {
		var (
			a                       service.ServiceProviderAccess
			accessType, status      string
			fieldIDs, perms, season sql.NullString
			expires                 sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.FarmerID, &a.ServiceProviderID, &accessType, &fieldIDs, &status, &perms, &season, &expires, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning provider access: %w", err)
		}
		a.AccessType = service.ProviderAccessType(accessType)
		a.Status = service.ProviderAccessStatus(status)
		a.Season = season.String
		if fieldIDs.Valid && fieldIDs.String != "" {
			if err := json.Unmarshal([]byte(fieldIDs.String), &a.FieldIDs); err != nil {
				return nil, fmt.Errorf("decoding field ids of %s: %w", a.ID, err)
			}
		}
		if perms.Valid && perms.String != "" {
			if err := json.Unmarshal([]byte(perms.String), &a.Permissions); err != nil {
				return nil, fmt.Errorf("decoding permissions of %s: %w", a.ID, err)
			}
		}
		if expires.Valid {
			t := expires.Time.UTC()
			a.ExpiresAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}
