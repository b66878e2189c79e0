// Package store provides the repository implementations behind the field
// services: an in-memory store with an optional JSON snapshot, and DuckDB.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-fields/internal/service"
)

// snapshotFile is the name of the JSON snapshot inside the data directory.
const snapshotFile = "fields.json"

// Memory is a Repository held in memory. When created with a data directory
// every mutation is written to a JSON snapshot there and reloaded on start.
type Memory struct {
	dataDir string

	mu             sync.RWMutex
	fields         map[string]service.Field
	edges          []service.AdjacentFieldEdge
	permissions    map[string]service.FieldVisibilityPermission
	providerAccess map[string]service.ServiceProviderAccess
	users          map[string]service.User
}

type snapshot struct {
	Fields         []service.Field                     `json:"fields"`
	Edges          []service.AdjacentFieldEdge         `json:"edges"`
	Permissions    []service.FieldVisibilityPermission `json:"permissions"`
	ProviderAccess []service.ServiceProviderAccess     `json:"providerAccess"`
	Users          []service.User                      `json:"users"`
}

var _ service.Repository = (*Memory)(nil)

// NewMemory creates a memory store. An empty dataDir keeps everything in
// memory only.
func NewMemory(dataDir string) (*Memory, error) {
	m := &Memory{
		dataDir:        dataDir,
		fields:         make(map[string]service.Field),
		permissions:    make(map[string]service.FieldVisibilityPermission),
		providerAccess: make(map[string]service.ServiceProviderAccess),
		users:          make(map[string]service.User),
	}
	if err := m.loadFromDisk(); err != nil {
		return nil, err
	}
	return m, nil
}

// Fields

func (m *Memory) GetField(_ context.Context, id string) (*service.Field, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.fields[id]
	if !ok {
		return nil, service.ErrFieldNotFound
	}
	c := cloneField(f)
	return &c, nil
}

func (m *Memory) GetFieldsByUser(_ context.Context, userID string) ([]service.Field, error) {
	return m.selectFields(func(f service.Field) bool { return f.UserID == userID }), nil
}

func (m *Memory) GetAllFieldsExcept(_ context.Context, userID string) ([]service.Field, error) {
	return m.selectFields(func(f service.Field) bool { return f.UserID != userID }), nil
}

func (m *Memory) ListFieldsPage(_ context.Context, afterID string, limit int) ([]service.Field, error) {
	out := m.selectFields(func(f service.Field) bool { return f.ID > afterID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateField(_ context.Context, f service.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.fields[f.ID]; exists {
		return fmt.Errorf("field with ID %q already exists", f.ID)
	}
	restore := m.checkpoint()
	m.fields[f.ID] = cloneField(f)
	return m.persist(restore)
}

func (m *Memory) UpdateField(_ context.Context, f service.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.fields[f.ID]; !exists {
		return service.ErrFieldNotFound
	}
	restore := m.checkpoint()
	m.fields[f.ID] = cloneField(f)
	return m.persist(restore)
}

func (m *Memory) DeleteField(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.fields[id]; !exists {
		return service.ErrFieldNotFound
	}
	restore := m.checkpoint()
	delete(m.fields, id)
	m.dropEdges(id)
	for pid, p := range m.permissions {
		switch {
		case p.OwnerFieldID == id:
			delete(m.permissions, pid)
		case p.ViewerFieldID == id:
			p.ViewerFieldID = ""
			m.permissions[pid] = p
		}
	}
	for aid, a := range m.providerAccess {
		if kept := without(a.FieldIDs, id); len(kept) != len(a.FieldIDs) {
			a.FieldIDs = kept
			m.providerAccess[aid] = a
		}
	}
	return m.persist(restore)
}

// Edges

func (m *Memory) CreateAdjacentFieldEdge(_ context.Context, e service.AdjacentFieldEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restore := m.checkpoint()
	m.edges = append(m.edges, e)
	return m.persist(restore)
}

func (m *Memory) DeleteAdjacentFieldEdgesFor(_ context.Context, fieldID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restore := m.checkpoint()
	m.dropEdges(fieldID)
	return m.persist(restore)
}

func (m *Memory) GetAdjacentFieldEdges(_ context.Context, fieldID string) ([]service.AdjacentFieldEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []service.AdjacentFieldEdge
	for _, e := range m.edges {
		if e.FieldID == fieldID || e.AdjacentFieldID == fieldID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) dropEdges(fieldID string) {
	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.FieldID != fieldID && e.AdjacentFieldID != fieldID {
			kept = append(kept, e)
		}
	}
	m.edges = kept
}

// Permissions

func (m *Memory) GetOrCreatePermission(_ context.Context, p service.FieldVisibilityPermission) (*service.FieldVisibilityPermission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.permissions {
		if existing.OwnerFieldID == p.OwnerFieldID && existing.ViewerUserID == p.ViewerUserID {
			return &existing, false, nil
		}
	}
	restore := m.checkpoint()
	m.permissions[p.ID] = p
	if err := m.persist(restore); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (m *Memory) GetPermission(_ context.Context, id string) (*service.FieldVisibilityPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[id]
	if !ok {
		return nil, service.ErrPermissionNotFoundOrUnauthorized
	}
	return &p, nil
}

func (m *Memory) FindPermission(_ context.Context, ownerFieldID, viewerUserID string) (*service.FieldVisibilityPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.permissions {
		if p.OwnerFieldID == ownerFieldID && p.ViewerUserID == viewerUserID {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdatePermissionStatus(_ context.Context, id string, from, to service.PermissionStatus, at time.Time) (*service.FieldVisibilityPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.permissions[id]
	if !ok {
		return nil, service.ErrPermissionNotFoundOrUnauthorized
	}
	if p.Status != from {
		return nil, &service.StaleStatusError{Current: string(p.Status)}
	}
	restore := m.checkpoint()
	p.Status = to
	p.UpdatedAt = at
	m.permissions[id] = p
	if err := m.persist(restore); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *Memory) ListPermissionsByOwner(_ context.Context, ownerUserID string) ([]service.FieldVisibilityPermission, error) {
	return m.selectPermissions(func(p service.FieldVisibilityPermission) bool { return p.OwnerUserID == ownerUserID }), nil
}

func (m *Memory) ListPermissionsByViewer(_ context.Context, viewerUserID string) ([]service.FieldVisibilityPermission, error) {
	return m.selectPermissions(func(p service.FieldVisibilityPermission) bool { return p.ViewerUserID == viewerUserID }), nil
}

// Provider access

func (m *Memory) GetServiceProviderAccessBetween(_ context.Context, farmerID, providerID string) ([]service.ServiceProviderAccess, error) {
	return m.selectAccess(func(a service.ServiceProviderAccess) bool {
		return a.FarmerID == farmerID && a.ServiceProviderID == providerID
	}), nil
}

func (m *Memory) CreateServiceProviderAccess(_ context.Context, a service.ServiceProviderAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providerAccess[a.ID]; exists {
		return fmt.Errorf("provider access with ID %q already exists", a.ID)
	}
	restore := m.checkpoint()
	m.providerAccess[a.ID] = a
	return m.persist(restore)
}

func (m *Memory) GetServiceProviderAccess(_ context.Context, id string) (*service.ServiceProviderAccess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.providerAccess[id]
	if !ok {
		return nil, service.ErrProviderAccessNotFound
	}
	return &a, nil
}

func (m *Memory) UpdateServiceProviderAccessStatus(_ context.Context, id string, from, to service.ProviderAccessStatus, at time.Time) (*service.ServiceProviderAccess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.providerAccess[id]
	if !ok {
		return nil, service.ErrProviderAccessNotFound
	}
	if a.Status != from {
		return nil, &service.StaleStatusError{Current: string(a.Status)}
	}
	restore := m.checkpoint()
	a.Status = to
	a.UpdatedAt = at
	m.providerAccess[id] = a
	if err := m.persist(restore); err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *Memory) ListServiceProviderAccessByFarmer(_ context.Context, farmerID string) ([]service.ServiceProviderAccess, error) {
	return m.selectAccess(func(a service.ServiceProviderAccess) bool { return a.FarmerID == farmerID }), nil
}

func (m *Memory) ListServiceProviderAccessByProvider(_ context.Context, providerID string) ([]service.ServiceProviderAccess, error) {
	return m.selectAccess(func(a service.ServiceProviderAccess) bool { return a.ServiceProviderID == providerID }), nil
}

// Users

func (m *Memory) GetUser(_ context.Context, id string) (*service.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) UpsertUser(_ context.Context, u service.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	restore := m.checkpoint()
	m.users[u.ID] = u
	return m.persist(restore)
}

// selection helpers return copies ordered by id.

func (m *Memory) selectFields(keep func(service.Field) bool) []service.Field {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []service.Field
	for _, f := range m.fields {
		if keep(f) {
			out = append(out, cloneField(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) selectPermissions(keep func(service.FieldVisibilityPermission) bool) []service.FieldVisibilityPermission {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []service.FieldVisibilityPermission
	for _, p := range m.permissions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) selectAccess(keep func(service.ServiceProviderAccess) bool) []service.ServiceProviderAccess {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []service.ServiceProviderAccess
	for _, a := range m.providerAccess {
		if keep(a) {
			a.FieldIDs = append([]string(nil), a.FieldIDs...)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// snapshotPath returns the path to the snapshot file.
func (m *Memory) snapshotPath() string {
	return filepath.Join(m.dataDir, snapshotFile)
}

// loadFromDisk restores the last snapshot. A missing file starts empty.
func (m *Memory) loadFromDisk() error {
	if m.dataDir == "" {
		return nil
	}
	data, err := os.ReadFile(m.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", m.snapshotPath(), err)
	}
	for _, f := range snap.Fields {
		m.fields[f.ID] = f
	}
	m.edges = snap.Edges
	for _, p := range snap.Permissions {
		m.permissions[p.ID] = p
	}
	for _, a := range snap.ProviderAccess {
		m.providerAccess[a.ID] = a
	}
	for _, u := range snap.Users {
		m.users[u.ID] = u
	}
	return nil
}

// checkpoint captures every collection so a failed snapshot write can be
// undone. Without a data dir nothing is written, so nothing is captured.
// Callers hold the write lock.
func (m *Memory) checkpoint() func() {
	if m.dataDir == "" {
		return func() {}
	}
	fields := maps.Clone(m.fields)
	edges := slices.Clone(m.edges)
	permissions := maps.Clone(m.permissions)
	providerAccess := maps.Clone(m.providerAccess)
	users := maps.Clone(m.users)
	return func() {
		m.fields = fields
		m.edges = edges
		m.permissions = permissions
		m.providerAccess = providerAccess
		m.users = users
	}
}

// persist writes the snapshot and rolls the change back through restore
// when the write fails, so memory never holds state the snapshot lacks.
func (m *Memory) persist(restore func()) error {
	if err := m.saveToDisk(); err != nil {
		restore()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// saveToDisk writes the snapshot. Callers hold the write lock.
func (m *Memory) saveToDisk() error {
	if m.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return err
	}

	snap := snapshot{Edges: m.edges}
	for _, f := range m.fields {
		snap.Fields = append(snap.Fields, f)
	}
	for _, p := range m.permissions {
		snap.Permissions = append(snap.Permissions, p)
	}
	for _, a := range m.providerAccess {
		snap.ProviderAccess = append(snap.ProviderAccess, a)
	}
	for _, u := range m.users {
		snap.Users = append(snap.Users, u)
	}
	sort.Slice(snap.Fields, func(i, j int) bool { return snap.Fields[i].ID < snap.Fields[j].ID })
	sort.Slice(snap.Permissions, func(i, j int) bool { return snap.Permissions[i].ID < snap.Permissions[j].ID })
	sort.Slice(snap.ProviderAccess, func(i, j int) bool { return snap.ProviderAccess[i].ID < snap.ProviderAccess[j].ID })
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.snapshotPath())
}

// cloneField deep-copies the parts of a field that are shared by reference.
func cloneField(f service.Field) service.Field {
	if shape := f.Shape(); shape != nil {
		f.Geometry = geojson.NewGeometry(orb.Clone(shape))
	}
	f.SprayTypes = append([]service.SprayType(nil), f.SprayTypes...)
	return f
}

func without(ids []string, drop string) []string {
	var out []string
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

// Counts returns the number of records per collection, keyed like the DuckDB
// tables.
func (m *Memory) Counts(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"fields":                       len(m.fields),
		"adjacent_field_edges":         len(m.edges),
		"field_visibility_permissions": len(m.permissions),
		"service_provider_access":      len(m.providerAccess),
		"users":                        len(m.users),
	}, nil
}
