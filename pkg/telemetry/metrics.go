package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the NodeWeave runtime. A nil or
// disabled Metrics is safe to call; every recorder is a no-op then.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Node metrics
	nodesExecuted *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec

	// Component manager metrics
	componentsLoaded prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEvictions   prometheus.Counter
	poolReuses       prometheus.Counter
	poolMisses       prometheus.Counter

	// Continuous execution metrics
	continuousActive prometheus.Gauge
	continuousEvents *prometheus.CounterVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of graph runs completed",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Graph run duration in seconds",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),
		nodesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_executed_total",
				Help:      "Total number of node executions",
			},
			[]string{"kind", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		componentsLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "components_loaded_total",
				Help:      "Total number of components loaded",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_cache_hits_total",
				Help:      "Compiled module cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_cache_misses_total",
				Help:      "Compiled module cache misses (lazy compiles)",
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_cache_evictions_total",
				Help:      "Compiled modules evicted from the LRU cache",
			},
		),
		poolReuses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instance_pool_reuses_total",
				Help:      "Instance templates reused from the pool",
			},
		),
		poolMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instance_pool_misses_total",
				Help:      "Instance templates synthesized because the pool was empty",
			},
		),
		continuousActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "continuous_nodes_active",
				Help:      "Currently running continuous node workers",
			},
		),
		continuousEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "continuous_events_total",
				Help:      "Events emitted by continuous node workers",
			},
			[]string{"type"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Runtime errors by code",
			},
			[]string{"code"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsCompleted, m.runDuration,
		m.nodesExecuted, m.nodeDuration,
		m.componentsLoaded,
		m.cacheHits, m.cacheMisses, m.cacheEvictions,
		m.poolReuses, m.poolMisses,
		m.continuousActive, m.continuousEvents,
		m.errorsByCode,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RunCompleted records a finished graph run.
func (m *Metrics) RunCompleted(mode, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// NodeExecuted records a single node execution.
func (m *Metrics) NodeExecuted(kind, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.nodesExecuted.WithLabelValues(kind, status).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ComponentLoaded records a successful component load.
func (m *Metrics) ComponentLoaded() {
	if m.enabled() {
		m.componentsLoaded.Inc()
	}
}

// CacheHit records a compiled-module cache hit.
func (m *Metrics) CacheHit() {
	if m.enabled() {
		m.cacheHits.Inc()
	}
}

// CacheMiss records a compiled-module cache miss.
func (m *Metrics) CacheMiss() {
	if m.enabled() {
		m.cacheMisses.Inc()
	}
}

// CacheEviction records an LRU eviction of a compiled module.
func (m *Metrics) CacheEviction() {
	if m.enabled() {
		m.cacheEvictions.Inc()
	}
}

// PoolReuse records an instance template served from the pool.
func (m *Metrics) PoolReuse() {
	if m.enabled() {
		m.poolReuses.Inc()
	}
}

// PoolMiss records an instance template synthesized on demand.
func (m *Metrics) PoolMiss() {
	if m.enabled() {
		m.poolMisses.Inc()
	}
}

// ContinuousStarted increments the active continuous worker gauge.
func (m *Metrics) ContinuousStarted() {
	if m.enabled() {
		m.continuousActive.Inc()
	}
}

// ContinuousStopped decrements the active continuous worker gauge.
func (m *Metrics) ContinuousStopped() {
	if m.enabled() {
		m.continuousActive.Dec()
	}
}

// ContinuousEvent records an event emitted by a continuous worker.
func (m *Metrics) ContinuousEvent(eventType string) {
	if m.enabled() {
		m.continuousEvents.WithLabelValues(eventType).Inc()
	}
}

// RecordError records a runtime error by code.
func (m *Metrics) RecordError(code string) {
	if m.enabled() {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server on the configured address. It blocks
// until the server stops.
func (m *Metrics) Serve() error {
	if !m.enabled() {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
