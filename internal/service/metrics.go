package service

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RecomputeTotal     *prometheus.CounterVec // status: ok, cleared, error
	RecomputeDuration  prometheus.Histogram
	EdgesWritten       prometheus.Counter
	CandidatesSkipped  prometheus.Counter
	BoundaryEstimates  prometheus.Counter
	OverlapChecks      *prometheus.CounterVec // method, result
	PermissionChanges  *prometheus.CounterVec // from, to
	ProjectionsByLevel *prometheus.CounterVec // access_level
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RecomputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fields_adjacency_recompute_total",
			Help: "Adjacency recomputations by outcome",
		}, []string{"status"}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fields_adjacency_recompute_duration_seconds",
			Help:    "Time taken to recompute the adjacency of one field",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		EdgesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fields_adjacency_edges_written_total",
			Help: "Adjacency edges persisted",
		}),
		CandidatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fields_adjacency_candidates_skipped_total",
			Help: "Candidates skipped because their geometry could not be evaluated",
		}),
		BoundaryEstimates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fields_adjacency_boundary_estimates_total",
			Help: "Edges whose shared boundary length is a perimeter-based estimate",
		}),
		OverlapChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fields_overlap_checks_total",
			Help: "Overlap checks by method and result",
		}, []string{"method", "result"}),
		PermissionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fields_permission_transitions_total",
			Help: "Visibility permission transitions",
		}, []string{"from", "to"}),
		ProjectionsByLevel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fields_projections_total",
			Help: "Field projections by computed access level",
		}, []string{"access_level"}),
	}
	if err := reg.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register service metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.RecomputeTotal.Describe(ch)
	m.RecomputeDuration.Describe(ch)
	m.EdgesWritten.Describe(ch)
	m.CandidatesSkipped.Describe(ch)
	m.BoundaryEstimates.Describe(ch)
	m.OverlapChecks.Describe(ch)
	m.PermissionChanges.Describe(ch)
	m.ProjectionsByLevel.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.RecomputeTotal.Collect(ch)
	m.RecomputeDuration.Collect(ch)
	m.EdgesWritten.Collect(ch)
	m.CandidatesSkipped.Collect(ch)
	m.BoundaryEstimates.Collect(ch)
	m.OverlapChecks.Collect(ch)
	m.PermissionChanges.Collect(ch)
	m.ProjectionsByLevel.Collect(ch)
}

func (m *Metrics) recompute(status string, started time.Time, edges, skipped, estimated int) {
	if m == nil {
		return
	}
	m.RecomputeTotal.WithLabelValues(status).Inc()
	m.RecomputeDuration.Observe(time.Since(started).Seconds())
	m.EdgesWritten.Add(float64(edges))
	m.CandidatesSkipped.Add(float64(skipped))
	m.BoundaryEstimates.Add(float64(estimated))
}

func (m *Metrics) overlap(method string, conflict bool) {
	if m == nil {
		return
	}
	result := "clear"
	if conflict {
		result = "conflict"
	}
	m.OverlapChecks.WithLabelValues(method, result).Inc()
}

func (m *Metrics) transition(from, to PermissionStatus) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.PermissionChanges.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) projected(level AccessLevel) {
	if m == nil {
		return
	}
	m.ProjectionsByLevel.WithLabelValues(string(level)).Inc()
}
