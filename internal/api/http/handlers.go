package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// MaxRunTimeout caps the per-request timeout a caller may ask for
const MaxRunTimeout = 2 * time.Minute

// Handlers contains all HTTP handlers
type Handlers struct {
	registry    *registry.Registry
	coordinator *sandbox.Coordinator
	metrics     *HandlerMetrics
	logger      *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(reg *registry.Registry, coordinator *sandbox.Coordinator, metrics *HandlerMetrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry:    reg,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger.Named("api"),
	}
}

// Root reports service identity
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Parser Plugin Sandbox",
		"version": Version,
	})
}

// Health reports registry and pool state
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"plugins":     h.registry.Count(),
		"pools":       h.coordinator.Stats(),
		"queue_depth": h.coordinator.QueueDepth(),
	})
}

// statusFor maps sandbox and registry errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrPluginExists):
		return http.StatusConflict
	}
	kind, _ := plugin.KindOf(err)
	switch kind {
	case plugin.KindManifest:
		return http.StatusBadRequest
	case plugin.KindSecurity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail writes err as the structured error body
func fail(c *gin.Context, status int, err error) {
	body := gin.H{"success": false, "error": err.Error()}
	var pe *plugin.Error
	if errors.As(err, &pe) {
		body["error"] = pe.Info()
	}
	c.JSON(status, body)
}
