// Package metrics exposes run counters for Prometheus, either scraped over
// HTTP or written to a node_exporter textfile at the end of a run.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

const namespace = "vlm_rationales"

// Metrics holds the collectors of one process on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ItemsResolved   *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	BatchJobs       *prometheus.CounterVec
	CheckpointSaves *prometheus.CounterVec
	Coverage        *prometheus.GaugeVec
	LastRunSeconds  prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ItemsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_resolved_total",
			Help:      "Items that received a result value, labeled by outcome.",
		}, []string{"language", "task", "outcome"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Direct-mode provider requests, labeled by response kind.",
		}, []string{"provider", "kind"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Direct-mode request latency including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"provider"}),
		BatchJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "Batch submissions, labeled by final status.",
		}, []string{"language", "task", "status"}),
		CheckpointSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint files written.",
		}, []string{"language", "task"}),
		Coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_items",
			Help:      "Items currently held by a checkpoint.",
		}, []string{"language", "task"}),
		LastRunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last finished run.",
		}),
	}
	m.registry.MustRegister(
		m.ItemsResolved,
		m.Requests,
		m.RequestLatency,
		m.BatchJobs,
		m.CheckpointSaves,
		m.Coverage,
		m.LastRunSeconds,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns dispatch hooks that feed the collectors
func (m *Metrics) Hooks(provider string) dispatch.Hooks {
	return dispatch.Hooks{
		Resolved: func(spec domain.TaskSpec, item int, value string) {
			outcome := "success"
			if domain.IsErrorValue(value) {
				outcome = "error"
			}
			m.ItemsResolved.WithLabelValues(spec.Language.Name, taskLabel(spec.Task), outcome).Inc()
		},
		Request: func(kind llm.Kind, latency time.Duration) {
			m.Requests.WithLabelValues(provider, kind.String()).Inc()
			m.RequestLatency.WithLabelValues(provider).Observe(latency.Seconds())
		},
		Job: func(ev dispatch.JobEvent) {
			m.BatchJobs.WithLabelValues(ev.Spec.Language.Name, taskLabel(ev.Spec.Task), string(ev.Job.Status)).Inc()
		},
	}
}

// CheckpointSaved counts a save and records the checkpoint size
func (m *Metrics) CheckpointSaved(lang domain.Language, task domain.TaskNumber, items int) {
	m.CheckpointSaves.WithLabelValues(lang.Name, taskLabel(task)).Inc()
	m.Coverage.WithLabelValues(lang.Name, taskLabel(task)).Set(float64(items))
}

// RunFinished stamps the last run time
func (m *Metrics) RunFinished(at time.Time) {
	m.LastRunSeconds.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry for the node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func taskLabel(t domain.TaskNumber) string {
	return "task" + strconv.Itoa(int(t))
}
