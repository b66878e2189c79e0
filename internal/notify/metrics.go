package notify

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts notification outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Outcomes *prometheus.CounterVec // sender, outcome: sent, failed, dropped
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fields_notifications_total",
			Help: "Notification deliveries by sender and outcome",
		}, []string{"sender", "outcome"}),
	}
	if err := reg.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) { m.Outcomes.Describe(ch) }

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) { m.Outcomes.Collect(ch) }

func (m *Metrics) outcome(sender, outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(sender, outcome).Inc()
}
