package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/shared/id"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/shared/utils"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 256 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a client request
type Message struct {
	Type       string         `json:"type"`
	Source     string         `json:"source,omitempty"`
	Language   string         `json:"language,omitempty"`
	URL        string         `json:"url,omitempty"`
	Password   string         `json:"password,omitempty"`
	Capability string         `json:"capability,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	TimeoutMs  int64          `json:"timeout_ms,omitempty"`
}

// Handler serves the streaming playground
type Handler struct {
	registry    *registry.Registry
	coordinator *sandbox.Coordinator
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(reg *registry.Registry, coordinator *sandbox.Coordinator, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:    reg,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger.Named("ws"),
	}
}

// conn serializes writes; log entries arrive from the executing worker
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) sendError(message string) error {
	return c.send(map[string]interface{}{
		"type":      "error",
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	connID := id.NewConnectionID()
	logger := h.logger.With(zap.String("connection_id", connID.String()))
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	cn := &conn{ws: ws}
	reqCtx := c.Request.Context()

	_ = cn.send(map[string]interface{}{
		"type":          "system",
		"message":       "Connected to plugin playground",
		"connection_id": connID,
	})

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "run":
			h.handleRun(reqCtx, cn, msg)
		case "ping":
			_ = cn.send(map[string]interface{}{"type": "pong"})
		default:
			_ = cn.sendError("unknown message type")
		}
	}
}

// handleRun vets the source, then streams every log entry followed by
// the result
func (h *Handler) handleRun(ctx context.Context, cn *conn, msg Message) {
	req, err := h.prepare(msg)
	if err != nil {
		_ = cn.send(map[string]interface{}{
			"type":  "rejected",
			"error": errorInfo(err),
		})
		return
	}

	_ = cn.send(map[string]interface{}{
		"type":       "started",
		"plugin":     req.Descriptor.Type,
		"capability": req.Capability,
		"timestamp":  time.Now().UnixMilli(),
	})

	done := h.coordinator.Stream(ctx, req, func(entry plugin.LogEntry) {
		_ = cn.send(map[string]interface{}{
			"type":  "log",
			"entry": entry,
		})
	})
	res := <-done

	_ = cn.send(map[string]interface{}{
		"type":   "result",
		"result": res,
	})
}

func (h *Handler) prepare(msg Message) (plugin.ExecutionRequest, error) {
	var lang plugin.Language
	if msg.Language != "" {
		l, ok := plugin.ParseLanguage(msg.Language)
		if !ok {
			return plugin.ExecutionRequest{}, plugin.ManifestError("language", "unsupported language %q", msg.Language)
		}
		lang = l
	}

	d, _, err := h.registry.Vet(msg.Source, lang)
	if err != nil {
		return plugin.ExecutionRequest{}, err
	}
	capability, ok := plugin.ParseCapability(msg.Capability)
	if !ok {
		return plugin.ExecutionRequest{}, plugin.ManifestError("capability", "unknown capability %q", msg.Capability)
	}
	if err := utils.ValidateExtra(msg.Extra); err != nil {
		return plugin.ExecutionRequest{}, plugin.ManifestError("extra", "%s", err)
	}
	in, ok := d.Input(msg.URL, msg.Password, msg.Extra)
	if !ok {
		return plugin.ExecutionRequest{}, plugin.ManifestError("match", "url does not match the %s pattern", d.Type)
	}

	timeout := time.Duration(msg.TimeoutMs) * time.Millisecond
	if timeout > 2*time.Minute {
		timeout = 2 * time.Minute
	}
	return plugin.ExecutionRequest{
		Descriptor: d,
		Capability: capability,
		Input:      in,
		Isolated:   true,
		Timeout:    timeout,
	}, nil
}

func errorInfo(err error) any {
	var pe *plugin.Error
	if errors.As(err, &pe) {
		return pe.Info()
	}
	return map[string]string{"message": err.Error()}
}
