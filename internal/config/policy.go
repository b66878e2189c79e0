// Package config holds the spatial policy shared by adjacency, discovery and
// overlap validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the single source of the distance thresholds used by the
// proximity engine and the overlap validator.
type Policy struct {
	// DiscoveryRadiusMeters bounds both nearby queries and adjacency
	// candidates, measured centroid to centroid.
	DiscoveryRadiusMeters float64 `yaml:"discoveryRadiusMeters" json:"discoveryRadiusMeters"`
	// AdjacencyToleranceMeters is the outward buffer applied to the anchor
	// field before testing intersection.
	AdjacencyToleranceMeters float64 `yaml:"adjacencyToleranceMeters" json:"adjacencyToleranceMeters"`
	// OverlapVertexToleranceDegrees is used only by the heuristic overlap
	// fallback.
	OverlapVertexToleranceDegrees float64 `yaml:"overlapVertexToleranceDegrees" json:"overlapVertexToleranceDegrees"`
	// ScanPageSize is the page size used when walking all fields.
	ScanPageSize int `yaml:"scanPageSize" json:"scanPageSize"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		DiscoveryRadiusMeters:         5000,
		AdjacencyToleranceMeters:      10,
		OverlapVertexToleranceDegrees: 1e-4,
		ScanPageSize:                  500,
	}
}

// Validate rejects non-positive thresholds.
func (p Policy) Validate() error {
	if p.DiscoveryRadiusMeters <= 0 {
		return fmt.Errorf("discoveryRadiusMeters must be positive, got %v", p.DiscoveryRadiusMeters)
	}
	if p.AdjacencyToleranceMeters < 0 {
		return fmt.Errorf("adjacencyToleranceMeters must not be negative, got %v", p.AdjacencyToleranceMeters)
	}
	if p.AdjacencyToleranceMeters > p.DiscoveryRadiusMeters {
		return fmt.Errorf("adjacencyToleranceMeters (%v) exceeds discoveryRadiusMeters (%v)",
			p.AdjacencyToleranceMeters, p.DiscoveryRadiusMeters)
	}
	if p.OverlapVertexToleranceDegrees <= 0 {
		return fmt.Errorf("overlapVertexToleranceDegrees must be positive, got %v", p.OverlapVertexToleranceDegrees)
	}
	if p.ScanPageSize <= 0 {
		return fmt.Errorf("scanPageSize must be positive, got %d", p.ScanPageSize)
	}
	return nil
}

// LoadPolicy reads a YAML policy file on top of the defaults. An empty path
// returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return p, nil
}
