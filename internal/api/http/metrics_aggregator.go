package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox"
)

// MetricsAggregator collects execution, pool and upstream state into
// one JSON snapshot
type MetricsAggregator struct {
	metrics     *monitoring.Metrics
	coordinator *sandbox.Coordinator
	registry    *registry.Registry
	breakers    *resilience.Group
}

// NewMetricsAggregator creates a metrics aggregator. breakers may be nil.
func NewMetricsAggregator(metrics *monitoring.Metrics, coordinator *sandbox.Coordinator, reg *registry.Registry, breakers *resilience.Group) *MetricsAggregator {
	return &MetricsAggregator{
		metrics:     metrics,
		coordinator: coordinator,
		registry:    reg,
		breakers:    breakers,
	}
}

// MetricsSnapshot represents a snapshot of all sandbox metrics
type MetricsSnapshot struct {
	Timestamp  time.Time              `json:"timestamp"`
	Executions map[string]interface{} `json:"executions"`
	Pools      []sandbox.PoolStats    `json:"pools"`
	Upstreams  map[string]string      `json:"upstreams,omitempty"`
	Summary    MetricsSummary         `json:"summary"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	Plugins       int     `json:"plugins"`
	QueueDepth    int     `json:"queue_depth"`
	IdleContexts  int     `json:"idle_contexts"`
	BusyContexts  int     `json:"busy_contexts"`
	TimeoutRate   float64 `json:"timeout_rate"`
	OpenUpstreams int     `json:"open_upstreams"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// GetAggregatedMetrics returns the full snapshot
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, ma.Snapshot())
}

// GetPoolStats returns per-language context pool statistics
func (ma *MetricsAggregator) GetPoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pools":       ma.coordinator.Stats(),
		"queue_depth": ma.coordinator.QueueDepth(),
	})
}

// Snapshot assembles the current metrics
func (ma *MetricsAggregator) Snapshot() MetricsSnapshot {
	pools := ma.coordinator.Stats()
	snapshot := MetricsSnapshot{
		Timestamp:  time.Now(),
		Executions: ma.metrics.Summary(),
		Pools:      pools,
		Upstreams:  ma.upstreams(),
	}
	snapshot.Summary = ma.calculateSummary(pools, snapshot.Upstreams)
	return snapshot
}

func (ma *MetricsAggregator) upstreams() map[string]string {
	if ma.breakers == nil {
		return nil
	}
	states := ma.breakers.States()
	out := make(map[string]string, len(states))
	for host, state := range states {
		out[host] = state.String()
	}
	return out
}

func (ma *MetricsAggregator) calculateSummary(pools []sandbox.PoolStats, upstreams map[string]string) MetricsSummary {
	s := MetricsSummary{
		Plugins:    ma.registry.Count(),
		QueueDepth: ma.coordinator.QueueDepth(),
	}
	for _, p := range pools {
		s.IdleContexts += p.Idle
		s.BusyContexts += p.InUse
	}
	for _, state := range upstreams {
		if state == resilience.StateOpen.String() {
			s.OpenUpstreams++
		}
	}

	snap := ma.metrics.GetSnapshot()
	if snap.Executions > 0 {
		s.TimeoutRate = float64(snap.ByState[string(plugin.StateTimedOut)]) / float64(snap.Executions)
	}
	if uptime, ok := ma.metrics.Summary()["uptime_seconds"].(float64); ok {
		s.UptimeSeconds = uptime
	}
	return s
}
