package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// Every method is safe to call on a nil receiver so components can run
// without a collector in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution metrics
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionsActive  prometheus.Gauge
	WorkerQueueDepth  prometheus.Gauge

	// Pool metrics
	PoolContexts *prometheus.GaugeVec
	PoolEvents   *prometheus.CounterVec
	PoolAcquire  *prometheus.HistogramVec

	// Security metrics
	SecurityViolations *prometheus.CounterVec

	// Network bridge metrics
	BridgeRequests *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec
	SSRFBlocked    *prometheus.CounterVec

	// Registry metrics
	PluginsRegistered  prometheus.Gauge
	RegistryOperations *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON stats endpoint
type Snapshot struct {
	Executions     int64            `json:"executions"`
	ByState        map[string]int64 `json:"by_state"`
	TotalMillis    int64            `json:"total_ms"`
	Violations     int64            `json:"security_violations"`
	SSRFBlocked    int64            `json:"ssrf_blocked"`
	BridgeRequests int64            `json:"bridge_requests"`
}

// NewMetrics creates a collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),
		snapshot:  Snapshot{ByState: map[string]int64{}},

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		Executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_executions_total",
				Help: "Plugin executions by terminal state",
			},
			[]string{"language", "capability", "state"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_execution_duration_seconds",
				Help:    "Plugin execution wall time in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language", "capability"},
		),
		ExecutionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_executions_active",
				Help: "Plugin executions currently running",
			},
		),
		WorkerQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_worker_queue_depth",
				Help: "Executions waiting for a worker",
			},
		),

		PoolContexts: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sandbox_pool_contexts",
				Help: "Interpreter contexts by pool state",
			},
			[]string{"language", "state"},
		),
		PoolEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_pool_events_total",
				Help: "Context lifecycle events",
			},
			[]string{"language", "event"},
		),
		PoolAcquire: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_pool_acquire_seconds",
				Help:    "Time spent waiting for a context",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"language"},
		),

		SecurityViolations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_security_violations_total",
				Help: "Security policy violations by rule",
			},
			[]string{"policy", "rule"},
		),

		BridgeRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_bridge_requests_total",
				Help: "Outbound plugin HTTP requests",
			},
			[]string{"method", "outcome"},
		),
		BridgeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_bridge_request_duration_seconds",
				Help:    "Outbound plugin HTTP latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SSRFBlocked: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_ssrf_blocked_total",
				Help: "Outbound requests rejected by the SSRF guard",
			},
			[]string{"reason"},
		),

		PluginsRegistered: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_plugins_registered",
				Help: "Number of registered plugins",
			},
		),
		RegistryOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_registry_operations_total",
				Help: "Plugin registry API operations by outcome",
			},
			[]string{"operation", "status"},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_ws_connections",
				Help: "Open playground websocket connections",
			},
		),

		Uptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	return m
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) updateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordHTTPRequest records an API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.updateUptime()
}

// RecordExecution records one finished plugin execution
func (m *Metrics) RecordExecution(language, capability, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(language, capability, state).Inc()
	m.ExecutionDuration.WithLabelValues(language, capability).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Executions++
	m.snapshot.ByState[state]++
	m.snapshot.TotalMillis += duration.Milliseconds()
	m.mu.Unlock()
}

// ExecutionStarted increments the active execution gauge
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.ExecutionsActive.Inc()
}

// ExecutionFinished decrements the active execution gauge
func (m *Metrics) ExecutionFinished() {
	if m == nil {
		return
	}
	m.ExecutionsActive.Dec()
}

// SetQueueDepth reports waiting executions
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.WorkerQueueDepth.Set(float64(n))
}

// SetPoolContexts reports context counts for one pool
func (m *Metrics) SetPoolContexts(language string, idle, inUse int) {
	if m == nil {
		return
	}
	m.PoolContexts.WithLabelValues(language, "idle").Set(float64(idle))
	m.PoolContexts.WithLabelValues(language, "in_use").Set(float64(inUse))
}

// RecordPoolEvent counts a context lifecycle event
func (m *Metrics) RecordPoolEvent(language, event string) {
	if m == nil {
		return
	}
	m.PoolEvents.WithLabelValues(language, event).Inc()
}

// ObservePoolAcquire records acquisition wait time
func (m *Metrics) ObservePoolAcquire(language string, wait time.Duration) {
	if m == nil {
		return
	}
	m.PoolAcquire.WithLabelValues(language).Observe(wait.Seconds())
}

// RecordSecurityViolation counts one policy finding
func (m *Metrics) RecordSecurityViolation(policy, rule string) {
	if m == nil {
		return
	}
	m.SecurityViolations.WithLabelValues(policy, rule).Inc()
	m.mu.Lock()
	m.snapshot.Violations++
	m.mu.Unlock()
}

// RecordBridgeRequest records one outbound plugin request
func (m *Metrics) RecordBridgeRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BridgeRequests.WithLabelValues(method, outcome).Inc()
	m.BridgeDuration.WithLabelValues(method).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.BridgeRequests++
	m.mu.Unlock()
}

// RecordSSRFBlocked counts a guard rejection
func (m *Metrics) RecordSSRFBlocked(reason string) {
	if m == nil {
		return
	}
	m.SSRFBlocked.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.SSRFBlocked++
	m.mu.Unlock()
}

// SetPluginsRegistered reports the registry size
func (m *Metrics) SetPluginsRegistered(count int) {
	if m == nil {
		return
	}
	m.PluginsRegistered.Set(float64(count))
}

// RecordRegistryOperation counts one registry API operation
func (m *Metrics) RecordRegistryOperation(operation, status string) {
	if m == nil {
		return
	}
	m.RegistryOperations.WithLabelValues(operation, status).Inc()
}

// IncWSConnections increments open websocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements open websocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
