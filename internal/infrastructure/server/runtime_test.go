package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
)

const builtinsPlugin = `# ==UserScript==
# @name        Builtins
# @type        builtins
# @displayName Builtins Pan
# @match       https?://builtins\.example\.com/s/(?P<KEY>\w+)
# ==/UserScript==
import os

def parse(share_link_info, http, logger):
    key = share_link_info.get_share_key()
    if key == "boom":
        raise Exception("bad key " + key)
    parts = []
    i = 0
    while True:
        if i >= len(key):
            break
        parts.append(key[i].upper())
        i += 1
    name = os.path.join("/files", "".join(parts))
    return str(len(key)) + ":" + name + ":" + str(os.getenv("HOME", None))
`

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Sandbox.Workers = 2
	cfg.Pool.Warm = 1
	cfg.Pool.MaxSize = 2

	rt := NewRuntime(cfg, zap.NewNop(), monitoring.NewMetrics())
	t.Cleanup(func() { _ = rt.Close() })
	require.NoError(t, rt.Warmup(context.Background()))
	return rt
}

func TestRuntimePythonBuiltins(t *testing.T) {
	rt := newTestRuntime(t)

	d, _, err := rt.Registry.Vet(builtinsPlugin, plugin.LanguagePython)
	require.NoError(t, err)

	run := func(key string) *plugin.ExecutionResult {
		in, ok := d.Input("https://builtins.example.com/s/"+key, "", nil)
		require.True(t, ok)
		return rt.Coordinator.Execute(context.Background(), plugin.ExecutionRequest{
			Descriptor: d,
			Capability: plugin.CapabilityPrimary,
			Input:      in,
		})
	}

	for i := 0; i < 3; i++ {
		res := run("abc")
		require.True(t, res.Success, "%+v", res.Error)
		assert.Equal(t, "3:/files/ABC:None", res.Value.Str)
	}

	res := run("boom")
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "bad key boom")
}
