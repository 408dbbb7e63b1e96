package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, 128<<10, cfg.Sandbox.MaxSourceBytes)
	assert.Equal(t, 1000, cfg.Sandbox.MaxLogEntries)

	assert.Equal(t, 4, cfg.Pool.Warm)
	assert.Equal(t, 10, cfg.Pool.MaxSize)
	assert.Equal(t, 15*time.Minute, cfg.Pool.MaxAge.Std())
	assert.Equal(t, time.Minute, cfg.Pool.CleanupInterval.Std())

	assert.Equal(t, int64(10<<20), cfg.Bridge.MaxBodyBytes)
	assert.Zero(t, cfg.Bridge.RetryCount)

	require.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	require.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SANDBOX_TIMEOUT", "5s")
	t.Setenv("SANDBOX_ALLOWLIST", "crypto,html")
	t.Setenv("POOL_MAX", "3")
	t.Setenv("POOL_WARM", "2")
	t.Setenv("BRIDGE_ALLOWED_HOSTS", "mirror.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, []string{"crypto", "html"}, cfg.Sandbox.Allowlist)
	assert.Equal(t, 3, cfg.Pool.MaxSize)
	assert.Equal(t, 2, cfg.Pool.Warm)
	assert.Equal(t, []string{"mirror.internal"}, cfg.Bridge.AllowedHosts)

	// untouched values keep their defaults
	assert.Equal(t, 15*time.Minute, cfg.Pool.MaxAge.Std())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unparseable duration", map[string]string{"SANDBOX_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"SANDBOX_TIMEOUT": "0s"}},
		{"warm above max", map[string]string{"POOL_MAX": "2", "POOL_WARM": "5"}},
		{"no workers", map[string]string{"SANDBOX_WORKERS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "sandbox.yaml",
			content: `
sandbox:
  timeout: 12s
  plugin_dir: /srv/plugins
pool:
  max_size: 6
bridge:
  proxy: http://proxy.local:3128
`,
		},
		{
			name: "toml",
			file: "sandbox.toml",
			content: `
[sandbox]
timeout = "12s"
plugin_dir = "/srv/plugins"

[pool]
max_size = 6

[bridge]
proxy = "http://proxy.local:3128"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := LoadFile(path)
			require.NoError(t, err)

			assert.Equal(t, 12*time.Second, cfg.Sandbox.Timeout.Std())
			assert.Equal(t, "/srv/plugins", cfg.Sandbox.PluginDir)
			assert.Equal(t, 6, cfg.Pool.MaxSize)
			assert.Equal(t, 4, cfg.Pool.Warm)
			assert.Equal(t, "http://proxy.local:3128", cfg.Bridge.Proxy)
		})
	}
}

func TestLoadFileEnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  timeout: 12s\n"), 0o600))
	t.Setenv("SANDBOX_TIMEOUT", "3s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout.Std())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "sandbox.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o600))
	_, err = LoadFile(ini)
	assert.ErrorContains(t, err, "unsupported")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 90s ")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
}
