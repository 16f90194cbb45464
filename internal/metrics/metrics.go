// Package metrics counts job outcomes and durations and writes them in the
// Prometheus text format for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds one sweep's collectors on a private registry.
// A nil *Metrics discards everything.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	sweepStarted  prometheus.Gauge
	sweepFinished prometheus.Gauge
	jobsPlanned   prometheus.Gauge
}

// New creates and registers the sweep collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stargal_jobs_total",
				Help: "Total number of simulator jobs by catalogue type and outcome.",
			},
			[]string{"type", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "stargal_job_duration_seconds",
				Help: "Wall time of simulator jobs in seconds.",
				// phosim runs take minutes to hours.
				Buckets: prometheus.ExponentialBuckets(1, 4, 9),
			},
			[]string{"type"},
		),
		sweepStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stargal_sweep_started_timestamp_seconds",
			Help: "Unix time the current sweep started.",
		}),
		sweepFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stargal_sweep_finished_timestamp_seconds",
			Help: "Unix time the last sweep finished.",
		}),
		jobsPlanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stargal_sweep_jobs_planned",
			Help: "Number of jobs planned for the current sweep.",
		}),
	}
	m.registry.MustRegister(m.jobsTotal, m.jobDuration, m.sweepStarted, m.sweepFinished, m.jobsPlanned)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SweepStarted records the start time and planned job count.
func (m *Metrics) SweepStarted(at time.Time, planned int) {
	if m == nil {
		return
	}
	m.sweepStarted.Set(float64(at.Unix()))
	m.jobsPlanned.Set(float64(planned))
}

// ObserveJob counts one job outcome. Durations are observed only for jobs
// that actually ran.
func (m *Metrics) ObserveJob(catalogueType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(catalogueType, status).Inc()
	if d > 0 {
		m.jobDuration.WithLabelValues(catalogueType).Observe(d.Seconds())
	}
}

// SweepFinished records the finish time.
func (m *Metrics) SweepFinished(at time.Time) {
	if m == nil {
		return
	}
	m.sweepFinished.Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics to path. The file is replaced
// atomically so a scraping node exporter never sees a partial write.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
