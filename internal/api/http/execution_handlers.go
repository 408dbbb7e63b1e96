package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/shared/utils"
)

// RunRequest asks for one capability of a registered plugin
type RunRequest struct {
	URL        string         `json:"url" binding:"required"`
	Password   string         `json:"password"`
	Capability string         `json:"capability"`
	Extra      map[string]any `json:"extra"`
	TimeoutMs  int64          `json:"timeout_ms"`
}

// PlaygroundRequest runs unregistered source in an isolated context
type PlaygroundRequest struct {
	RunRequest
	Source   string `json:"source" binding:"required"`
	Language string `json:"language"`
}

func (r RunRequest) capability() (plugin.Capability, error) {
	capability, ok := plugin.ParseCapability(r.Capability)
	if !ok {
		return "", fmt.Errorf("unknown capability %q", r.Capability)
	}
	return capability, nil
}

func (r RunRequest) timeout() time.Duration {
	d := time.Duration(r.TimeoutMs) * time.Millisecond
	if d > MaxRunTimeout {
		return MaxRunTimeout
	}
	return d
}

func (r RunRequest) execution(d *plugin.Descriptor, isolated bool) (plugin.ExecutionRequest, error) {
	capability, err := r.capability()
	if err != nil {
		return plugin.ExecutionRequest{}, err
	}
	if err := utils.ValidateExtra(r.Extra); err != nil {
		return plugin.ExecutionRequest{}, err
	}
	in, ok := d.Input(r.URL, r.Password, r.Extra)
	if !ok {
		return plugin.ExecutionRequest{}, fmt.Errorf("url does not match the %s pattern", d.Type)
	}
	return plugin.ExecutionRequest{
		Descriptor: d,
		Capability: capability,
		Input:      in,
		Isolated:   isolated,
		Timeout:    r.timeout(),
	}, nil
}

// RunPlugin executes a capability of a registered plugin
func (h *Handlers) RunPlugin(c *gin.Context) {
	entry, ok := h.registry.Get(c.Param("type"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "plugin not found"})
		return
	}

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}
	exec, err := req.execution(entry.Descriptor, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.respond(c, h.coordinator.Execute(c.Request.Context(), exec))
}

// respond tags the request span with the execution and writes the result
func (h *Handlers) respond(c *gin.Context, res *plugin.ExecutionResult) {
	ctx := c.Request.Context()
	tracing.Tag(ctx, "execution.id", res.ID)
	tracing.Tag(ctx, "execution.state", string(res.State))
	c.JSON(http.StatusOK, res)
}

// Resolve finds the plugin matching a share URL and runs its primary capability
func (h *Handlers) Resolve(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateExtra(req.Extra); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	entry, in, ok := h.registry.Match(req.URL, req.Password, req.Extra)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no plugin matches url"})
		return
	}

	res := h.coordinator.Execute(c.Request.Context(), plugin.ExecutionRequest{
		Descriptor: entry.Descriptor,
		Capability: plugin.CapabilityPrimary,
		Input:      in,
		Timeout:    req.timeout(),
	})
	h.respond(c, res)
}

// Playground vets and runs submitted source without registering it
func (h *Handlers) Playground(c *gin.Context) {
	var req PlaygroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}

	var lang plugin.Language
	if req.Language != "" {
		var ok bool
		if lang, ok = plugin.ParseLanguage(req.Language); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unsupported language " + req.Language})
			return
		}
	}

	d, _, err := h.registry.Vet(req.Source, lang)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	exec, err := req.execution(d, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.respond(c, h.coordinator.Execute(c.Request.Context(), exec))
}
