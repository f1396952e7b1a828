package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for nodesync. A nil *Metrics (or
// one created with Enabled=false) is a valid no-op collector, so
// instrumented code never has to guard its calls.
type Metrics struct {
	config MetricsConfig

	// Provisioning metrics
	provisionRuns     *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec

	// Registry API metrics
	registryCalls        *prometheus.CounterVec
	registryCallDuration *prometheus.HistogramVec

	// Offline queue metrics
	queueDepth   prometheus.Gauge
	queueReplays *prometheus.CounterVec

	// Scan metrics
	scanJobs *prometheus.CounterVec

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

		provisionRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provision_runs_total",
				Help:      "Total number of provisioning runs by outcome",
			},
			[]string{"outcome"},
		),
		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_run_duration_seconds",
				Help:      "Duration of provisioning runs in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		registryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_calls_total",
				Help:      "Total number of registry API calls",
			},
			[]string{"operation", "result"},
		),
		registryCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registry_call_duration_seconds",
				Help:      "Duration of registry API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "offline_queue_depth",
				Help:      "Number of entries currently in the offline queue",
			},
		),
		queueReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_queue_replays_total",
				Help:      "Total number of offline queue replay passes",
			},
			[]string{"result"},
		),

		scanJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_jobs_total",
				Help:      "Total number of node scan trigger attempts",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.provisionRuns,
		m.provisionDuration,
		m.registryCalls,
		m.registryCallDuration,
		m.queueDepth,
		m.queueReplays,
		m.scanJobs,
	)

	return m, nil
}

// RecordProvision records the outcome of a provisioning run.
func (m *Metrics) RecordProvision(outcome string, duration time.Duration) {
	if m == nil || m.provisionRuns == nil {
		return
	}
	m.provisionRuns.WithLabelValues(outcome).Inc()
	m.provisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRegistryCall records a registry API call.
func (m *Metrics) RecordRegistryCall(operation string, ok bool, duration time.Duration) {
	if m == nil || m.registryCalls == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.registryCalls.WithLabelValues(operation, result).Inc()
	m.registryCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetQueueDepth records the current offline-queue backlog size.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordReplay records an offline-queue replay pass. clean is true when
// the whole batch replayed without a hard error and the file was deleted.
func (m *Metrics) RecordReplay(clean bool) {
	if m == nil || m.queueReplays == nil {
		return
	}
	result := "clean"
	if !clean {
		result = "kept"
	}
	m.queueReplays.WithLabelValues(result).Inc()
}

// RecordScan records a node scan trigger attempt.
func (m *Metrics) RecordScan(ok bool) {
	if m == nil || m.scanJobs == nil {
		return
	}
	result := "started"
	if !ok {
		result = "failed"
	}
	m.scanJobs.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler serving the metrics endpoint, or nil
// when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Path returns the configured HTTP path for the metrics endpoint.
func (m *Metrics) Path() string {
	if m == nil || m.config.Path == "" {
		return "/metrics"
	}
	return m.config.Path
}
