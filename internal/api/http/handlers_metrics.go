package http

import (
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps handlers with metrics tracking
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// TrackRegistryOperation returns a func that records the outcome of one
// registry operation when called with its error
func (hm *HandlerMetrics) TrackRegistryOperation(operation string) func(err error) {
	return func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			if kind, ok := plugin.KindOf(err); ok {
				status = string(kind)
			}
		}
		hm.metrics.RecordRegistryOperation(operation, status)
	}
}
