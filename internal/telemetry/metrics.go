// Package telemetry exports replay counters as Prometheus metrics and phase
// spans through OpenTelemetry.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/ovniemu/internal/emu"
)

const namespace = "ovniemu"

// Metrics holds the counters of one emulation. It implements emu.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	events   *prometheus.CounterVec
	warnings *prometheus.CounterVec
	regions  prometheus.Counter
	jumps    prometheus.Gauge
}

// NewMetrics creates the counters and registers them in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events replayed, by model id.",
		}, []string{"model"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Tolerated emulation errors, by error code.",
		}, []string{"code"}),
		regions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsorted_regions_total",
			Help:      "Unsorted stream regions repaired.",
		}),
		jumps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_jumps",
			Help:      "Backwards clock jumps seen by the merge.",
		}),
	}
	m.Registry.MustRegister(m.events, m.warnings, m.regions, m.jumps)
	return m
}

// Event counts one replayed event.
func (m *Metrics) Event(mcv string) {
	model := "?"
	if mcv != "" {
		model = mcv[:1]
	}
	m.events.WithLabelValues(model).Inc()
}

// Warning counts one tolerated error.
func (m *Metrics) Warning(code emu.ErrorCode) {
	m.warnings.WithLabelValues(string(code)).Inc()
}

// Regions adds repaired regions.
func (m *Metrics) Regions(n int) { m.regions.Add(float64(n)) }

// Jumps sets the backwards jump count.
func (m *Metrics) Jumps(n int) { m.jumps.Set(float64(n)) }

// WriteTextfile writes the metrics in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
