package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/logging"
)

const echoPlugin = `// ==UserScript==
// @name        Echo
// @type        echo
// @displayName Echo Pan
// @match       https?://echo\.example\.com/s/(?<KEY>\w+)(\?pwd=(?<PWD>\w+))?
// ==/UserScript==

function parse(shareLinkInfo, http, logger) {
    logger.info("key " + shareLinkInfo.getShareKey());
    return "https://cdn.echo.example.com/" + shareLinkInfo.getShareKey() + "/" + shareLinkInfo.getSharePassword();
}
`

const listPlugin = `# ==UserScript==
# @name        Lister
# @type        lister
# @displayName Lister Pan
# @match       https?://list\.example\.com/s/(?P<KEY>\w+)
# ==/UserScript==

def parse(share_link_info, http, logger):
    return "https://list.example.com/d/" + share_link_info.get_share_key()

def parse_file_list(share_link_info, http, logger):
    logger.info("listing")
    return [{"fileName": "a.txt", "fileId": "1", "size": 3}]
`

const loopPlugin = `// ==UserScript==
// @name        Spin
// @type        spin
// @displayName Spin Pan
// @match       https?://spin\.example\.com/s/(?<KEY>\w+)
// ==/UserScript==

function parse(shareLinkInfo, http, logger) {
    while (true) {}
}
`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.js"), []byte(echoPlugin), 0o644))

	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.Sandbox.PluginDir = dir
	cfg.Sandbox.Workers = 2
	cfg.Pool.Warm = 1
	cfg.Pool.MaxSize = 2

	srv, err := NewServer(cfg, &logging.Logger{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func firstPluginLog(t *testing.T, logs []plugin.LogEntry) plugin.LogEntry {
	t.Helper()
	for _, e := range logs {
		if e.Source == plugin.SourcePlugin {
			return e
		}
	}
	require.FailNow(t, "no plugin log entry", "%+v", logs)
	return plugin.LogEntry{}
}

func TestHealthCountsLoadedPlugins(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["plugins"])
}

func TestRegisterRunRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/v2/plugins", map[string]any{"source": listPlugin, "language": "python"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/v2/plugins", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, w)["count"])

	w = do(t, h, http.MethodPost, "/v2/plugins/lister/run", map[string]any{
		"url":        "https://list.example.com/s/abc",
		"capability": "listing",
	})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[plugin.ExecutionResult](t, w)
	assert.True(t, res.Success, w.Body.String())
	assert.Equal(t, plugin.ValueFileList, res.Value.Kind)
	require.Len(t, res.Value.Files, 1)
	assert.Equal(t, "a.txt", res.Value.Files[0].FileName)
	assert.Equal(t, "listing", firstPluginLog(t, res.Logs).Message)

	w = do(t, h, http.MethodDelete, "/v2/plugins/lister", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodGet, "/v2/plugins/lister", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing source", map[string]any{}, http.StatusBadRequest},
		{"no header", map[string]any{"source": "function parse() {}"}, http.StatusBadRequest},
		{"duplicate", map[string]any{"source": echoPlugin}, http.StatusConflict},
		{"unsafe import", map[string]any{"source": strings.Replace(listPlugin, "def parse(", "import subprocess\n\ndef parse(", 1)}, http.StatusUnprocessableEntity},
		{"bad language", map[string]any{"source": listPlugin, "language": "ruby"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodPost, "/v2/plugins", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestResolve(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/v2/resolve", map[string]any{"url": "https://echo.example.com/s/k1?pwd=p1"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[plugin.ExecutionResult](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, "echo", res.Plugin)
	assert.Equal(t, "https://cdn.echo.example.com/k1/p1", res.Value.Str)

	w = do(t, h, http.MethodPost, "/v2/resolve", map[string]any{"url": "https://nobody.example.com/s/k1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaygroundTimeout(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv.Handler(), http.MethodPost, "/v2/playground/test", map[string]any{
		"source":     loopPlugin,
		"url":        "https://spin.example.com/s/x",
		"timeout_ms": 200,
	})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[plugin.ExecutionResult](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, plugin.StateTimedOut, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, plugin.KindTimeout, res.Error.Kind)

	// playground runs never touch the registry
	assert.False(t, srv.Runtime().Registry.Contains("spin"))
}

func TestStatsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	do(t, h, http.MethodPost, "/v2/resolve", map[string]any{"url": "https://echo.example.com/s/k1"})

	w := do(t, h, http.MethodGet, "/v2/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	assert.Contains(t, stats, "pools")
	assert.Contains(t, stats, "summary")

	w = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sandbox_executions_total")
}

func TestPlaygroundWebSocket(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v2/playground/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, "system", read()["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "run",
		"source": echoPlugin,
		"url":    "https://echo.example.com/s/abc",
	}))

	var types []string
	var result map[string]any
	for result == nil {
		msg := read()
		types = append(types, msg["type"].(string))
		if msg["type"] == "result" {
			result = msg["result"].(map[string]any)
		}
	}
	assert.Equal(t, "started", types[0])
	assert.Contains(t, types, "log")
	assert.Equal(t, true, result["success"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "run", "source": "not a plugin"}))
	assert.Equal(t, "rejected", read()["type"])
}
