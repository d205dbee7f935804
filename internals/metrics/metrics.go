// Package metrics exposes Prometheus collectors for the task engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipq"

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry           *prometheus.Registry
	tasksStarted       prometheus.Counter
	tasksFinished      *prometheus.CounterVec
	tasksRunning       prometheus.Gauge
	streamsActive      prometheus.Gauge
	artifactsDelivered prometheus.Counter
	cleanupFailures    *prometheus.CounterVec
	tasksReclaimed     *prometheus.CounterVec
	fetchDuration      prometheus.Histogram
}

// New registers every collector on a fresh registry, so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Tasks accepted by the manager.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Workers currently in flight.",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Open stream sessions.",
		}),
		artifactsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_delivered_total",
			Help:      "Artifacts handed to a client.",
		}),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Best-effort deletions that failed.",
		}, []string{"resource"}),
		tasksReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_reclaimed_total",
			Help:      "Task records and files reclaimed.",
		}, []string{"reason"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent inside the fetcher.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasksStarted,
		m.tasksFinished,
		m.tasksRunning,
		m.streamsActive,
		m.artifactsDelivered,
		m.cleanupFailures,
		m.tasksReclaimed,
		m.fetchDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
	m.tasksRunning.Inc()
}

func (m *Metrics) TaskFinished(status string, fetchTime time.Duration) {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasksFinished.WithLabelValues(status).Inc()
	if fetchTime > 0 {
		m.fetchDuration.Observe(fetchTime.Seconds())
	}
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamsActive.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamsActive.Dec()
}

func (m *Metrics) ArtifactDelivered() {
	if m == nil {
		return
	}
	m.artifactsDelivered.Inc()
}

func (m *Metrics) CleanupFailed(resource string) {
	if m == nil {
		return
	}
	m.cleanupFailures.WithLabelValues(resource).Inc()
}

func (m *Metrics) TaskReclaimed(reason string) {
	if m == nil {
		return
	}
	m.tasksReclaimed.WithLabelValues(reason).Inc()
}
