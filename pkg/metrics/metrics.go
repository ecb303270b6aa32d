// Package metrics exposes the Prometheus collectors the kernel reports
// against: phase durations, scheduler outcomes, housekeeper reclaim
// stats, settings resolutions, and shutdown outcomes. The phase-duration
// histogram is registered, but no kernel component records into it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this package registers. Kept separate
// from prometheus.DefaultRegisterer so tests can spin up isolated
// instances via NewRecorder.
var Registry = prometheus.NewRegistry()

// Recorder is a process-wide bundle of kernel metrics. Tests construct
// their own Recorder with NewRecorder to avoid collisions with the
// package-level Default.
type Recorder struct {
	registry *prometheus.Registry

	phaseDuration *prometheus.HistogramVec

	schedulerFires   *prometheus.CounterVec
	schedulerMissed  prometheus.Counter
	schedulerRunning prometheus.Gauge

	housekeeperBytesReclaimed *prometheus.CounterVec
	housekeeperFilesDeleted   *prometheus.CounterVec

	settingsResolutions *prometheus.CounterVec

	shutdownHandlers *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder builds a Recorder and registers its collectors with the
// given registry (a fresh prometheus.NewRegistry() in tests).
func NewRecorder(registry *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: registry,
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kernel",
			Name:      "phase_duration_seconds",
			Help:      "Duration of bootstrap/phase1/phase2 stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		schedulerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Total scheduled event fires by outcome.",
		}, []string{"outcome"}),
		schedulerMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "scheduler",
			Name:      "missed_fires_total",
			Help:      "Total ticks skipped because the event was still running.",
		}),
		schedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "scheduler",
			Name:      "running_events",
			Help:      "Number of events currently executing.",
		}),
		housekeeperBytesReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "housekeeper",
			Name:      "bytes_reclaimed_total",
			Help:      "Total bytes reclaimed by cleanup registrations.",
		}, []string{"registration_id"}),
		housekeeperFilesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "housekeeper",
			Name:      "files_deleted_total",
			Help:      "Total files deleted by cleanup registrations.",
		}, []string{"registration_id"}),
		settingsResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "settings",
			Name:      "resolutions_total",
			Help:      "Total get_typed resolutions by module.",
		}, []string{"module_id"}),
		shutdownHandlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "shutdown",
			Name:      "handlers_total",
			Help:      "Total shutdown handler outcomes.",
		}, []string{"kind", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled by the kernel API.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kernel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests handled by the kernel API.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
	}

	collectors := []prometheus.Collector{
		r.phaseDuration, r.schedulerFires, r.schedulerMissed, r.schedulerRunning,
		r.housekeeperBytesReclaimed, r.housekeeperFilesDeleted, r.settingsResolutions,
		r.shutdownHandlers, r.httpRequests, r.httpDuration,
	}
	for _, c := range collectors {
		registry.MustRegister(c)
	}

	return r
}

// Default is the process-wide recorder registered against Registry.
var Default = NewRecorder(Registry)

// ObservePhaseDuration records how long a named phase took.
func (r *Recorder) ObservePhaseDuration(phase string, seconds float64) {
	r.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// IncSchedulerFire records a scheduled-event fire outcome.
func (r *Recorder) IncSchedulerFire(outcome string) {
	r.schedulerFires.WithLabelValues(outcome).Inc()
}

// IncSchedulerMissed records a skipped tick (same-event overlap guard).
func (r *Recorder) IncSchedulerMissed() {
	r.schedulerMissed.Inc()
}

// SetSchedulerRunning sets the current in-flight execution gauge.
func (r *Recorder) SetSchedulerRunning(n int) {
	r.schedulerRunning.Set(float64(n))
}

// AddHousekeeperReclaim records bytes/files reclaimed by a registration.
func (r *Recorder) AddHousekeeperReclaim(registrationID string, bytes int64, files int) {
	r.housekeeperBytesReclaimed.WithLabelValues(registrationID).Add(float64(bytes))
	r.housekeeperFilesDeleted.WithLabelValues(registrationID).Add(float64(files))
}

// IncSettingsResolution records a get_typed call for a module.
func (r *Recorder) IncSettingsResolution(moduleID string) {
	r.settingsResolutions.WithLabelValues(moduleID).Inc()
}

// IncShutdownHandler records a graceful/force shutdown handler outcome.
func (r *Recorder) IncShutdownHandler(kind, outcome string) {
	r.shutdownHandlers.WithLabelValues(kind, outcome).Inc()
}

// ObserveHTTPRequest records one HTTP request's status and duration.
func (r *Recorder) ObserveHTTPRequest(method, path, status string, seconds float64) {
	r.httpRequests.WithLabelValues(method, path, status).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(seconds)
}

// Handler returns an http.Handler exposing this recorder's registry in
// the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
