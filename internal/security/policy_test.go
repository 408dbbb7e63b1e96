package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

func pyDescriptor(src string) *plugin.Descriptor {
	return &plugin.Descriptor{Type: "demo", Language: plugin.LanguagePython, Source: src}
}

func symbols(vs []plugin.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Symbol
	}
	return out
}

func TestStaticScanRejectsProcessSpawningImport(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		symbol string
	}{
		{"plain import", "import subprocess\n", "subprocess"},
		{"from import", "from subprocess import Popen\n", "subprocess"},
		{"list import", "import json, subprocess\n", "subprocess"},
		{"dotted import", "import multiprocessing.pool\n", "multiprocessing.pool"},
		{"indented import", "def f():\n    import socket\n", "socket"},
	}

	p := NewStaticScanPolicy(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Check(pyDescriptor(tt.src))
			require.False(t, res.Passed)
			require.Len(t, res.Violations, 1)
			assert.Equal(t, RuleBannedImport, res.Violations[0].RuleID)
			assert.Equal(t, tt.symbol, res.Violations[0].Symbol)

			err := res.Err()
			require.Error(t, err)
			assert.True(t, plugin.IsKind(err, plugin.KindSecurity))
			assert.Contains(t, err.Error(), tt.symbol)
		})
	}
}

func TestStaticScanPassesBenignCode(t *testing.T) {
	src := `# ==UserScript==
# @type demo
# ==/UserScript==
import json
import re
import base64
import hashlib
import os
from urllib.parse import quote, urlencode

def parse(share_link_info, http, logger):
    """Resolve the link. Never call os.system() or eval() here."""
    resp = http.get("https://api.example.com/share/" + share_link_info.get_share_key())
    data = json.loads(resp.text())
    token = hashlib.md5(data["id"].encode()).hexdigest()
    home = os.path.join("a", "b")
    proxy = os.environ.get("HTTP_PROXY")
    pattern = re.compile(r"token=(\w+)")
    logger.info("eval(x) in a string literal is fine: %s" % token)
    return "https://cdn.example.com/" + quote(token)
`
	res := NewStaticScanPolicy(nil).Check(pyDescriptor(src))
	assert.True(t, res.Passed, "violations: %v", res.Violations)
	assert.Empty(t, res.Violations)
	assert.NoError(t, res.Err())
}

func TestStaticScanReportsAllViolations(t *testing.T) {
	src := `import subprocess
def parse(info, http, logger):
    os.system("id")
    return eval("1+1")
`
	res := NewStaticScanPolicy(nil).Check(pyDescriptor(src))
	require.False(t, res.Passed)
	require.Len(t, res.Violations, 3)
	assert.Equal(t, []string{"subprocess", "os.system", "eval"}, symbols(res.Violations))
	assert.Equal(t, []int{1, 3, 4}, []int{res.Violations[0].Line, res.Violations[1].Line, res.Violations[2].Line})
}

func TestStaticScanRules(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		rule   string
		symbol string
	}{
		{"os alias", "import os as o\no.popen('ls')\n", RuleBannedCall, "os.popen"},
		{"from os import", "from os import system\n", RuleBannedCall, "os.system"},
		{"spawn variant", "os.spawnvpe(1, 'x', [], {})\n", RuleBannedCall, "os.spawnvpe"},
		{"dunder import", "m = __import__('socket')\n", RuleBannedBuiltin, "__import__"},
		{"compile", "code = compile('x', 'f', 'exec')\n", RuleBannedBuiltin, "compile"},
		{"file write", "f = open('/tmp/x', 'w')\n", RuleFileWrite, "open"},
		{"binary append", "f = open(path, mode='ab')\n", RuleFileWrite, "open"},
		{"reflection", "x = ().__class__.__bases__[0].__subclasses__()\n", RuleReflection, "__bases__"},
	}

	p := NewStaticScanPolicy(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := p.Scan(tt.src)
			require.NotEmpty(t, vs)
			assert.Equal(t, tt.rule, vs[0].RuleID)
			assert.Equal(t, tt.symbol, vs[0].Symbol)
		})
	}
}

func TestStaticScanIgnoresCommentsAndMethodCalls(t *testing.T) {
	src := `# import subprocess
x = re.compile("a")   # eval(x)
y = obj.exec(1)
f = open(path, "r")
s = '''
import socket
'''
`
	assert.Empty(t, NewStaticScanPolicy(nil).Scan(src))
}

func TestChokePointAllowsAllowlistedSymbol(t *testing.T) {
	p := NewChokePointPolicy(nil, nil)

	assert.NoError(t, p.Authorize("crypto"))
	assert.NoError(t, p.Authorize("node:url"))
	assert.Equal(t, int64(0), p.Denied())
	assert.Equal(t, []string{"crypto", "html", "url"}, p.Allowlist())
}

func TestChokePointDeniesAndLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewChokePointPolicy(nil, zap.New(core))

	tests := []struct {
		symbol string
		rule   string
	}{
		{"child_process", RuleProcessExec},
		{"fs", RuleFilesystem},
		{"net", RuleRawSocket},
		{"vm", RuleDynamicEval},
		{"leftpad", RuleNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			err := p.Authorize(tt.symbol)
			require.Error(t, err)

			var pe *plugin.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, plugin.KindSecurity, pe.Kind)
			require.Len(t, pe.Violations, 1)
			assert.Equal(t, tt.rule, pe.Violations[0].RuleID)
			assert.Equal(t, tt.symbol, pe.Violations[0].Symbol)
		})
	}

	assert.Equal(t, int64(len(tests)), p.Denied())
	assert.Equal(t, len(tests), logs.FilterMessage("Denied host symbol access").Len())
}

func TestChokePointCheckIsLazy(t *testing.T) {
	p := NewChokePointPolicy(nil, nil)
	d := &plugin.Descriptor{Type: "js", Language: plugin.LanguageJavaScript, Source: "const cp = require('child_process')"}

	assert.True(t, p.Check(d).Passed)
	assert.False(t, p.Check(&plugin.Descriptor{Source: "  "}).Passed)
}

func TestEngineRoutesByLanguage(t *testing.T) {
	e := NewEngine(map[plugin.Language]Policy{
		plugin.LanguageJavaScript: NewChokePointPolicy(nil, nil),
		plugin.LanguagePython:     NewStaticScanPolicy(nil),
	})

	js := e.Check(&plugin.Descriptor{Language: plugin.LanguageJavaScript, Source: "import subprocess"})
	assert.True(t, js.Passed)
	assert.Equal(t, "choke-point", js.Policy)

	py := e.Check(pyDescriptor("import subprocess"))
	assert.False(t, py.Passed)
	assert.Equal(t, "static-scan", py.Policy)

	unknown := e.Check(&plugin.Descriptor{Language: "lua", Source: "x"})
	assert.False(t, unknown.Passed)
	assert.Equal(t, RuleUnsupported, unknown.Violations[0].RuleID)
}
