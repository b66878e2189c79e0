// Package db opens the DuckDB database and applies the schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
}

// Path returns the database file path, or "" for an in-memory database.
func (c Config) Path() string {
	if c.DataDir == "" {
		return ""
	}
	name := c.DBName
	if name == "" {
		name = "fields"
	}
	return filepath.Join(c.DataDir, "duckdb", name+".duckdb")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id   VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fields (
		id          VARCHAR PRIMARY KEY,
		user_id     VARCHAR NOT NULL,
		name        VARCHAR NOT NULL,
		geometry    VARCHAR,
		crop        VARCHAR,
		spray_types VARCHAR,
		variety     VARCHAR,
		season      VARCHAR,
		status      VARCHAR,
		acres       DOUBLE,
		notes       VARCHAR,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS fields_user_idx ON fields (user_id)`,
	`CREATE TABLE IF NOT EXISTS adjacent_field_edges (
		field_id               VARCHAR NOT NULL,
		adjacent_field_id      VARCHAR NOT NULL,
		distance               DOUBLE NOT NULL,
		shared_boundary_length DOUBLE NOT NULL,
		estimated              BOOLEAN NOT NULL DEFAULT false,
		created_at             TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS field_visibility_permissions (
		id              VARCHAR PRIMARY KEY,
		owner_field_id  VARCHAR NOT NULL,
		owner_user_id   VARCHAR NOT NULL,
		viewer_user_id  VARCHAR NOT NULL,
		viewer_field_id VARCHAR,
		status          VARCHAR NOT NULL,
		grant_source    VARCHAR NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		UNIQUE (owner_field_id, viewer_user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS service_provider_access (
		id                  VARCHAR PRIMARY KEY,
		farmer_id           VARCHAR NOT NULL,
		service_provider_id VARCHAR NOT NULL,
		access_type         VARCHAR NOT NULL,
		field_ids           VARCHAR,
		status              VARCHAR NOT NULL,
		permissions         VARCHAR,
		season              VARCHAR,
		expires_at          TIMESTAMP,
		created_at          TIMESTAMP NOT NULL,
		updated_at          TIMESTAMP NOT NULL
	)`,
}

// Open opens the database described by cfg, loads the spatial extension
// when it is available and applies the schema. Spatial queries fail later
// if the extension could not be loaded.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := cfg.Path()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}

	// The extension may already be installed or the host may be offline.
	_, _ = conn.ExecContext(ctx, "INSTALL spatial; LOAD spatial;")

	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate creates missing tables.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// SpatialLoaded reports whether the spatial extension is usable.
func SpatialLoaded(ctx context.Context, conn *sql.DB) bool {
	var ok bool
	err := conn.QueryRowContext(ctx,
		"SELECT loaded FROM duckdb_extensions() WHERE extension_name = 'spatial'").Scan(&ok)
	return err == nil && ok
}
