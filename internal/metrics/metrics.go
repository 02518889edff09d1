// Package metrics exposes Prometheus counters for fetch outcomes, background
// tasks, evictions and worker lifecycle events. A nil *Metrics is valid and
// records nothing, so components can be constructed without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "sitecache"

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal      *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	TasksTotal        *prometheus.CounterVec
	EvictionsTotal    *prometheus.CounterVec
	PartitionBytes    *prometheus.GaugeVec
	InstallsTotal     *prometheus.CounterVec
	PartitionsDeleted *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.FetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fetches_total",
			Help:      "Intercepted fetches by scope, class, strategy and response source",
		},
		[]string{"scope", "class", "strategy", "source"},
	)
	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to produce a response for an intercepted fetch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scope", "source"},
	)
	m.TasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "background_tasks_total",
			Help:      "Background task results (failed, dropped)",
		},
		[]string{"result"},
	)
	m.EvictionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "evicted_entries_total",
			Help:      "Entries deleted by the size governor",
		},
		[]string{"partition"},
	)
	m.PartitionBytes = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "partition_bytes",
			Help:      "Total body bytes measured during the last governor pass",
		},
		[]string{"partition"},
	)
	m.InstallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "worker_installs_total",
			Help:      "Worker install attempts by scope and result",
		},
		[]string{"scope", "result"},
	)
	m.PartitionsDeleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "partitions_deleted_total",
			Help:      "Previous-version partitions deleted during activation",
		},
		[]string{"scope"},
	)

	return m
}

// Gatherer returns the registry backing the collectors.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// ObserveFetch records one intercepted fetch.
func (m *Metrics) ObserveFetch(scope, class, strategy, source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(scope, class, strategy, source).Inc()
	m.FetchDuration.WithLabelValues(scope, source).Observe(elapsed.Seconds())
}

// TaskFailed counts a background task that returned an error or panicked.
func (m *Metrics) TaskFailed() {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues("failed").Inc()
}

// TaskDropped counts a task rejected by a full queue.
func (m *Metrics) TaskDropped() {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues("dropped").Inc()
}

// ObserveGovern records the outcome of one governor pass.
func (m *Metrics) ObserveGovern(partition string, totalBytes int64, evicted int) {
	if m == nil {
		return
	}
	m.PartitionBytes.WithLabelValues(partition).Set(float64(totalBytes))
	if evicted > 0 {
		m.EvictionsTotal.WithLabelValues(partition).Add(float64(evicted))
	}
}

// ObserveInstall records an install attempt.
func (m *Metrics) ObserveInstall(scope string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.InstallsTotal.WithLabelValues(scope, result).Inc()
}

// ObservePartitionsDeleted counts partitions removed during activation.
func (m *Metrics) ObservePartitionsDeleted(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PartitionsDeleted.WithLabelValues(scope).Add(float64(n))
}
