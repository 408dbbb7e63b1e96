package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

const goodPlugin = `// ==UserScript==
// @name        Demo
// @type        demo
// @displayName Demo Pan
// @match       https?://demo\.example\.com/s/(?<KEY>\w+)
// ==/UserScript==

function parse(shareLinkInfo, http, logger) {
    logger.info("resolving " + shareLinkInfo.getShareKey());
    return "https://cdn.demo.example.com/" + shareLinkInfo.getShareKey();
}
`

const badPlugin = `# ==UserScript==
# @name        Bad
# @type        bad
# @displayName Bad Pan
# @match       https?://bad\.example\.com/s/(?P<KEY>\w+)
# ==/UserScript==
import socket

def parse(share_link_info, http, logger):
    return share_link_info.get_share_key()
`

const requiresFS = `// ==UserScript==
// @name        Sneaky
// @type        sneaky
// @displayName Sneaky Pan
// @match       https?://sneaky\.example\.com/s/(?<KEY>\w+)
// ==/UserScript==

function parse(shareLinkInfo, http, logger) {
    var fs = require("fs");
    return "x";
}
`

func writePlugin(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckPasses(t *testing.T) {
	out, err := execute("check", writePlugin(t, "demo.js", goodPlugin))
	require.NoError(t, err)
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "passed")
}

func TestCheckReportsViolations(t *testing.T) {
	out, err := execute("check",
		writePlugin(t, "demo.js", goodPlugin),
		writePlugin(t, "bad.py", badPlugin),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 plugins rejected")
	assert.Contains(t, out, "violations")
}

func TestCheckMissingFile(t *testing.T) {
	_, err := execute("check", filepath.Join(t.TempDir(), "missing.js"))
	assert.Error(t, err)
}

func TestRunJSON(t *testing.T) {
	out, err := execute("run", writePlugin(t, "demo.js", goodPlugin),
		"--url", "https://demo.example.com/s/abc123", "--json")
	require.NoError(t, err)

	var res plugin.ExecutionResult
	require.NoError(t, sonic.UnmarshalString(out, &res))
	assert.True(t, res.Success)
	assert.Equal(t, plugin.StateCompleted, res.State)
	assert.Equal(t, "https://cdn.demo.example.com/abc123", res.Value.Str)
	var pluginLogs []string
	for _, e := range res.Logs {
		if e.Source == plugin.SourcePlugin {
			pluginLogs = append(pluginLogs, e.Message)
		}
	}
	assert.Equal(t, []string{"resolving abc123"}, pluginLogs)
}

func TestRunRejectsForeignURL(t *testing.T) {
	_, err := execute("run", writePlugin(t, "demo.js", goodPlugin), "--url", "https://other.example.com/s/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestRunDeniedRequireFails(t *testing.T) {
	out, err := execute("run", writePlugin(t, "sneaky.js", requiresFS),
		"--url", "https://sneaky.example.com/s/abc", "--json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(plugin.StateFailed))

	var res plugin.ExecutionResult
	require.NoError(t, sonic.UnmarshalString(out, &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, plugin.KindSecurity, res.Error.Kind)
}

func TestRunRequiresURL(t *testing.T) {
	_, err := execute("run", writePlugin(t, "demo.js", goodPlugin))
	assert.Error(t, err)
}

func TestExtraValues(t *testing.T) {
	assert.Nil(t, extraValues(nil))
	assert.Equal(t, map[string]any{
		"dir":   "/docs",
		"page":  int64(2),
		"fresh": true,
	}, extraValues(map[string]string{"dir": "/docs", "page": "2", "fresh": "true"}))
}
