package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/security"
)

// PluginView is the API projection of a registry entry
type PluginView struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	DisplayName  string          `json:"display_name"`
	Language     plugin.Language `json:"language"`
	Match        string          `json:"match"`
	Description  string          `json:"description,omitempty"`
	Author       string          `json:"author,omitempty"`
	Version      string          `json:"version,omitempty"`
	Metadata     plugin.Metadata `json:"metadata,omitempty"`
	Security     security.Result `json:"security"`
	Origin       registry.Origin `json:"origin"`
	Digest       string          `json:"digest"`
	RegisteredAt time.Time       `json:"registered_at"`
	Source       string          `json:"source,omitempty"`
}

func viewOf(e *registry.Entry, withSource bool) PluginView {
	d := e.Descriptor
	v := PluginView{
		ID:           e.ID.String(),
		Type:         d.Type,
		Name:         d.Name,
		DisplayName:  d.DisplayName,
		Language:     d.Language,
		Match:        d.MatchSource,
		Description:  d.Description,
		Author:       d.Author,
		Version:      d.Version,
		Security:     e.Security,
		Origin:       e.Origin,
		Digest:       e.Digest,
		RegisteredAt: e.RegisteredAt,
	}
	if withSource {
		v.Source = d.Source
		v.Metadata = d.Metadata
	}
	return v
}

// RegisterRequest submits plugin source
type RegisterRequest struct {
	Source string `json:"source" binding:"required"`
	// Language, when set, must agree with the header comment style
	Language string `json:"language"`
	// Replace overwrites a plugin of the same type
	Replace bool `json:"replace"`
}

// ListPlugins lists registered plugins
func (h *Handlers) ListPlugins(c *gin.Context) {
	entries := h.registry.List()
	views := make([]PluginView, len(entries))
	for i, e := range entries {
		views[i] = viewOf(e, false)
	}
	c.JSON(http.StatusOK, gin.H{
		"plugins": views,
		"count":   len(views),
	})
}

// RegisterPlugin parses, vets and registers a plugin
func (h *Handlers) RegisterPlugin(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}

	track := h.metrics.TrackRegistryOperation("register")

	if req.Language != "" {
		lang, ok := plugin.ParseLanguage(req.Language)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unsupported language " + req.Language})
			return
		}
		if _, _, err := h.registry.Vet(req.Source, lang); err != nil {
			track(err)
			fail(c, statusFor(err), err)
			return
		}
	}

	register := h.registry.Register
	if req.Replace {
		register = h.registry.Replace
	}
	entry, err := register(req.Source, registry.OriginAPI)
	track(err)
	if err != nil {
		h.logger.Info("Plugin registration rejected", zap.Error(err))
		fail(c, statusFor(err), err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"plugin":  viewOf(entry, false),
	})
}

// GetPlugin returns one plugin including its source
func (h *Handlers) GetPlugin(c *gin.Context) {
	entry, ok := h.registry.Get(c.Param("type"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "plugin not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"plugin":  viewOf(entry, true),
	})
}

// DeletePlugin unregisters a plugin
func (h *Handlers) DeletePlugin(c *gin.Context) {
	typ := c.Param("type")
	err := h.registry.Unregister(typ)
	h.metrics.TrackRegistryOperation("unregister")(err)
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"type":    typ,
	})
}
