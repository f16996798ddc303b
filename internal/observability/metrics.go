package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the harness and reference gateway collectors.
type Metrics struct {
	registry *prometheus.Registry

	FramesTotal             *prometheus.CounterVec
	ProtocolViolationsTotal *prometheus.CounterVec
	ScenarioResultsTotal    *prometheus.CounterVec
	ScenarioDuration        prometheus.Histogram
	ActiveConnections       prometheus.Gauge
	RunsTotal               *prometheus.CounterVec
}

// NewMetrics creates collectors registered on a private registry.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reclaw_conformance",
			Name:      "frames_total",
			Help:      "WebSocket frames by direction and method",
		}, []string{"direction", "method"}),
		ProtocolViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reclaw_conformance",
			Name:      "protocol_violations_total",
			Help:      "Protocol violations observed on gateway connections",
		}, []string{"kind"}),
		ScenarioResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reclaw_conformance",
			Name:      "scenario_results_total",
			Help:      "Scenario outcomes by result",
		}, []string{"result"}),
		ScenarioDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reclaw_conformance",
			Name:      "scenario_duration_seconds",
			Help:      "Scenario wall time",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reclaw_gateway",
			Name:      "active_connections",
			Help:      "Open gateway WebSocket connections",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reclaw_gateway",
			Name:      "runs_total",
			Help:      "Runs reaching a terminal state by status",
		}, []string{"status"}),
	}
	r.MustRegister(
		m.FramesTotal,
		m.ProtocolViolationsTotal,
		m.ScenarioResultsTotal,
		m.ScenarioDuration,
		m.ActiveConnections,
		m.RunsTotal,
	)
	return m
}

// Registry exposes the underlying registry for promhttp.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
