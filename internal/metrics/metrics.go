// Package metrics provides Prometheus metrics for the migration pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the migrator. A nil *Metrics records nothing.
type Metrics struct {
	StageTotal        *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	VideosTotal       *prometheus.CounterVec
	BytesTotal        *prometheus.CounterVec
	PendingActivities prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		StageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_stage_runs_total",
				Help: "Pipeline stage runs by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "migrator_stage_duration_seconds",
				Help:    "Pipeline stage duration by stage.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"stage"},
		),
		VideosTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_videos_total",
				Help: "Videos transferred by direction and result.",
			},
			[]string{"direction", "result"},
		),
		BytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_bytes_total",
				Help: "Bytes transferred by direction.",
			},
			[]string{"direction"},
		),
		PendingActivities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "migrator_pending_activities",
				Help: "Activities eligible for migration at the last discovery.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_errors_total",
				Help: "Total errors by component and kind.",
			},
			[]string{"component", "kind"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrator_jobs_total",
				Help: "Notification jobs by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.StageTotal)
	reg.MustRegister(m.StageDuration)
	reg.MustRegister(m.VideosTotal)
	reg.MustRegister(m.BytesTotal)
	reg.MustRegister(m.PendingActivities)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.JobsTotal)

	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStage counts a finished stage run and its duration.
func (m *Metrics) RecordStage(stage, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StageTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordVideo counts one video transfer and, on success, its bytes.
func (m *Metrics) RecordVideo(direction, result string, bytes int64) {
	if m == nil {
		return
	}
	m.VideosTotal.WithLabelValues(direction, result).Inc()
	if bytes > 0 {
		m.BytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// SetPending sets the eligible activity count.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingActivities.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordJob counts a notification job by result (done, retried, dead_lettered, dropped).
func (m *Metrics) RecordJob(result string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(result).Inc()
}
