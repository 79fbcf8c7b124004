// Package metrics exposes run statistics in the Prometheus text format,
// written as a node_exporter textfile after each run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cdmslim/cdmslim/internal/sampler"
)

const namespace = "cdmslim"

// Metrics holds the run collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rowsRemoved   *prometheus.GaugeVec
	rowsRemaining *prometheus.GaugeVec
	stepDuration  *prometheus.GaugeVec
	steps         *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// New registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsRemoved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_removed",
			Help:      "Rows removed from a table by a step in the last run.",
		}, []string{"step", "table"}),
		rowsRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_remaining",
			Help:      "Rows left in a table after the last step that touched it.",
		}, []string{"table"}),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of each step in the last run.",
		}, []string{"step"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Steps executed in the last run by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run completed, 0 otherwise.",
		}),
	}
	m.registry.MustRegister(m.rowsRemoved, m.rowsRemaining, m.stepDuration, m.steps,
		m.runDuration, m.lastRun, m.lastSuccess)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStep records a finished sampler step. A nil result with an error
// counts as a failed step.
func (m *Metrics) ObserveStep(result *sampler.Result, err error) {
	if err != nil || result == nil {
		m.steps.WithLabelValues("failed").Inc()
		return
	}
	m.steps.WithLabelValues("completed").Inc()
	m.stepDuration.WithLabelValues(result.Step).Add(result.Duration.Seconds())
	for _, c := range result.Changes {
		m.rowsRemoved.WithLabelValues(result.Step, c.Table).Add(float64(c.Removed()))
		m.rowsRemaining.WithLabelValues(c.Table).Set(float64(c.RowsAfter))
	}
}

// ObserveRun records the end of a run.
func (m *Metrics) ObserveRun(success bool, d time.Duration, finished time.Time) {
	m.runDuration.Set(d.Seconds())
	m.lastRun.Set(float64(finished.Unix()))
	if success {
		m.lastSuccess.Set(1)
	} else {
		m.lastSuccess.Set(0)
	}
}

// WriteTextfile writes the registry to path for node_exporter's textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
