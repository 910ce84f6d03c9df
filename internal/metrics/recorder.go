// Package metrics records workflow step outcomes as Prometheus metrics and
// writes them in the node-exporter textfile format, so CI hosts can scrape
// firmware test results without a long-running server.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the workflow metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	steps    *prometheus.CounterVec
	duration *prometheus.GaugeVec
	reaped   prometheus.Counter
	passed   prometheus.Gauge
	info     *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with all metrics registered.
func NewRecorder() *Recorder {
	return NewRecorderWithRegistry(prometheus.NewRegistry())
}

// NewRecorderWithRegistry registers the metrics on registry.
func NewRecorderWithRegistry(registry *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: registry,
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qemurun_steps_total",
				Help: "Workflow steps run, by step name and status",
			},
			[]string{"step", "status"},
		),
		duration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qemurun_step_duration_seconds",
				Help: "Wall time of the most recent run of each step",
			},
			[]string{"step"},
		),
		reaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qemurun_reaped_processes_total",
				Help: "Emulator processes killed after a result banner",
			},
		),
		passed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qemurun_test_passed",
				Help: "1 if the last emulator run reported a passing test result, 0 otherwise",
			},
		),
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qemurun_run_info",
				Help: "Information about the last run (value always 1)",
			},
			[]string{"run_id", "kind"},
		),
	}
	registry.MustRegister(r.steps, r.duration, r.reaped, r.passed, r.info)
	return r
}

// RecordRun labels the metrics with the run being recorded.
func (r *Recorder) RecordRun(runID, kind string) {
	r.info.Reset()
	r.info.WithLabelValues(runID, kind).Set(1)
}

// RecordStep records the outcome and duration of one step.
func (r *Recorder) RecordStep(step, status string, d time.Duration) {
	r.steps.WithLabelValues(step, status).Inc()
	r.duration.WithLabelValues(step).Set(d.Seconds())
}

// RecordReaped adds n killed emulator processes.
func (r *Recorder) RecordReaped(n int) {
	if n > 0 {
		r.reaped.Add(float64(n))
	}
}

// RecordTestResult records the banner verdict.
func (r *Recorder) RecordTestResult(passed bool) {
	if passed {
		r.passed.Set(1)
	} else {
		r.passed.Set(0)
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
