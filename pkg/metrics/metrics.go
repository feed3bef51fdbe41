// Package metrics holds the Prometheus collectors of the loader pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dnamonitor"

// Load outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics is a set of collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	loads         *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	runsLoaded    *prometheus.GaugeVec
	snapshotCache *prometheus.CounterVec
	snapshotBytes prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_loads_total",
			Help:      "Data source loads by source and outcome.",
		}, []string{"source", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_load_duration_seconds",
			Help:      "Time spent loading a dataset.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		runsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_runs_loaded",
			Help:      "Runs returned by the most recent load.",
		}, []string{"source"}),
		snapshotCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_requests_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_size_bytes",
			Help:      "Size of the most recently fetched snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loads,
		m.loadDuration,
		m.runsLoaded,
		m.snapshotCache,
		m.snapshotBytes,
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLoad records one load. Safe on a nil receiver.
func (m *Metrics) ObserveLoad(source string, d time.Duration, runs int, err error) {
	if m == nil {
		return
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	m.loads.WithLabelValues(source, outcome).Inc()
	m.loadDuration.WithLabelValues(source).Observe(d.Seconds())
	m.runsLoaded.WithLabelValues(source).Set(float64(runs))
}

// CacheHit records a snapshot served from cache.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.snapshotCache.WithLabelValues("hit").Inc()
	}
}

// CacheMiss records a snapshot that had to be fetched.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.snapshotCache.WithLabelValues("miss").Inc()
	}
}

// SnapshotFetched records the size of a fetched snapshot.
func (m *Metrics) SnapshotFetched(size int) {
	if m != nil {
		m.snapshotBytes.Set(float64(size))
	}
}
