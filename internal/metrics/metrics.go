package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine and scheduler collectors. A nil *Metrics is valid
// and records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	advances         *prometheus.CounterVec
	advanceDuration  prometheus.Histogram
	started          prometheus.Counter
	terminal         *prometheus.CounterVec
	versionConflicts prometheus.Counter
	conditionNotes   prometheus.Counter
	jobs             *prometheus.CounterVec
	gatherer         prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		advances: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_advances_total",
			Help: "Advances processed, by step type and outcome.",
		}, []string{"step_type", "outcome"}),
		advanceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stepflow_advance_duration_seconds",
			Help:    "Wall time of one advance including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		started: f.NewCounter(prometheus.CounterOpts{
			Name: "stepflow_instances_started_total",
			Help: "Workflow instances created.",
		}),
		terminal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_instances_terminal_total",
			Help: "Instances that reached a terminal status.",
		}, []string{"status"}),
		versionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "stepflow_version_conflicts_total",
			Help: "Optimistic concurrency conflicts while saving instances.",
		}),
		conditionNotes: f.NewCounter(prometheus.CounterOpts{
			Name: "stepflow_condition_notes_total",
			Help: "Condition evaluations that failed closed.",
		}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_scheduler_jobs_total",
			Help: "Scheduler deliveries, by backend and result.",
		}, []string{"backend", "result"}),
		gatherer: reg,
	}
}

func (m *Metrics) Advance(stepType, outcome string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(stepType, outcome).Inc()
}

func (m *Metrics) ObserveAdvanceDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.advanceDuration.Observe(d.Seconds())
}

func (m *Metrics) InstanceStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
}

func (m *Metrics) InstanceTerminal(status string) {
	if m == nil {
		return
	}
	m.terminal.WithLabelValues(status).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *Metrics) ConditionNote() {
	if m == nil {
		return
	}
	m.conditionNotes.Inc()
}

func (m *Metrics) Job(backend, result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(backend, result).Inc()
}

// Handler serves the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
