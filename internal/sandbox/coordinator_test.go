package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/client"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/security"
)

var cryptoModule = host.Module{Name: "crypto", Exports: host.Object{
	"md5": func(...any) (any, error) { return "900150983cd24fb0d6963f7d28e17f72", nil },
}}

func newTestCoordinator(t *testing.T, engine *fakeEngine, cfg Config, poolSize int) (*Coordinator, *Pool) {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	pool := NewPool(engine, PoolConfig{MaxSize: poolSize, AcquireTimeout: 5 * time.Second}, nil, nil)
	coord := NewCoordinator(cfg, Deps{
		Pools:  map[plugin.Language]*Pool{engine.Language(): pool},
		Bridge: client.New(client.Options{}, nil, nil, nil),
		Security: security.NewEngine(map[plugin.Language]security.Policy{
			plugin.LanguageJavaScript: security.NewChokePointPolicy(nil, nil),
		}),
		Modules: []host.Module{cryptoModule},
	})
	t.Cleanup(func() { _ = coord.Close() })
	return coord, pool
}

func request(source string, capability plugin.Capability) plugin.ExecutionRequest {
	d := &plugin.Descriptor{
		Type:        "demo",
		DisplayName: "Demo",
		Language:    plugin.LanguageJavaScript,
		Match:       regexp.MustCompile(`https://pan\.example\.com/s/(?P<KEY>\w+)`),
		Source:      source,
	}
	in, _ := d.Input("https://pan.example.com/s/abc123", "", map[string]any{"page": float64(2)})
	return plugin.ExecutionRequest{Descriptor: d, Capability: capability, Input: in}
}

func messages(entries []plugin.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestExecuteCompletes(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"ok": {entries: []string{"parse"}, run: func(fc *fakeContext) (any, error) {
			key, _ := fc.bindings.Input["getShareKey"]()
			fc.log("info", "share key {}", key)
			return "https://dl.example.com/" + key.(string), nil
		}},
	})
	coord, _ := newTestCoordinator(t, engine, Config{}, 1)

	res := coord.Execute(context.Background(), request("ok", plugin.CapabilityPrimary))

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, plugin.StateCompleted, res.State)
	assert.Equal(t, "https://dl.example.com/abc123", res.Value.Str)
	assert.True(t, strings.HasPrefix(res.ID, "exec_"))
	assert.Equal(t, "demo", res.Plugin)

	msgs := strings.Join(messages(res.Logs), "\n")
	assert.Contains(t, msgs, "PENDING")
	assert.Contains(t, msgs, "BOUND")
	assert.Contains(t, msgs, "RUNNING: parse()")
	assert.Contains(t, msgs, "share key abc123")
	assert.Contains(t, msgs, "COMPLETED")
	assert.Less(t, strings.Index(msgs, "BOUND"), strings.Index(msgs, "share key"))
}

func TestPoolOfOneNeverLeaksGlobals(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"leaky": {entries: []string{"primary"}, run: func(fc *fakeContext) (any, error) {
			_, seen := fc.globals["counter"]
			fc.globals["counter"] = 1
			if seen {
				return "leaked", nil
			}
			return "clean", nil
		}},
	})
	coord, pool := newTestCoordinator(t, engine, Config{}, 1)

	for i := 0; i < 10; i++ {
		res := coord.Execute(context.Background(), request("leaky", plugin.CapabilityPrimary))
		require.True(t, res.Success)
		assert.Equal(t, "clean", res.Value.Str, "execution %d", i)
	}
	assert.Equal(t, int64(1), pool.Stats().Created)
}

func TestInfiniteLoopTimesOutWithLogs(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"loop": {entries: []string{"primary"}, run: func(fc *fakeContext) (any, error) {
			fc.log("info", "about to spin")
			<-fc.interrupt
			return nil, errors.New("interrupted")
		}},
	})
	coord, pool := newTestCoordinator(t, engine, Config{Timeout: 50 * time.Millisecond, Grace: time.Second}, 1)

	start := time.Now()
	res := coord.Execute(context.Background(), request("loop", plugin.CapabilityPrimary))

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, plugin.StateTimedOut, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, plugin.KindTimeout, res.Error.Kind)
	assert.Contains(t, messages(res.Logs), "about to spin")

	assert.Eventually(t, func() bool { return pool.Stats().Destroyed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pool.Stats().Idle)
}

func TestUninterruptibleRunIsAbandonedAfterGrace(t *testing.T) {
	unblock := make(chan struct{})
	engine := newFakeEngine(map[string]script{
		"stuck": {entries: []string{"primary"}, run: func(*fakeContext) (any, error) {
			<-unblock
			return "late", nil
		}},
	})
	coord, pool := newTestCoordinator(t, engine, Config{Timeout: 20 * time.Millisecond, Grace: 20 * time.Millisecond}, 1)

	start := time.Now()
	res := coord.Execute(context.Background(), request("stuck", plugin.CapabilityPrimary))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, plugin.StateTimedOut, res.State)
	assert.Contains(t, strings.Join(messages(res.Logs), "\n"), "abandoning context")

	assert.Equal(t, int64(0), pool.Stats().Destroyed)
	close(unblock)
	assert.Eventually(t, func() bool { return pool.Stats().Destroyed == 1 }, time.Second, 5*time.Millisecond)
}

func TestWrongShapeFails(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"number": returns(float64(42)),
		"string": returns("not a list"),
	})
	coord, _ := newTestCoordinator(t, engine, Config{}, 1)

	res := coord.Execute(context.Background(), request("number", plugin.CapabilityPrimary))
	assert.Equal(t, plugin.StateFailed, res.State)
	assert.Equal(t, plugin.KindResultShape, res.Error.Kind)

	res = coord.Execute(context.Background(), request("string", plugin.CapabilityListing))
	assert.Equal(t, plugin.StateFailed, res.State)
	assert.Equal(t, plugin.KindResultShape, res.Error.Kind)
}

func TestErrorsKeepTheirKind(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"throws": {entries: []string{"primary"}, run: func(*fakeContext) (any, error) {
			return nil, errors.New("TypeError: undefined is not a function")
		}},
		"ssrf": {entries: []string{"primary"}, run: func(*fakeContext) (any, error) {
			return nil, fmt.Errorf("GoError: %w", plugin.NetworkPolicyError("169.254.169.254", "cloud metadata endpoint"))
		}},
		"no-listing": {entries: []string{"primary"}, run: func(*fakeContext) (any, error) { return "x", nil }},
	})
	coord, _ := newTestCoordinator(t, engine, Config{}, 1)

	tests := []struct {
		source     string
		capability plugin.Capability
		kind       plugin.ErrorKind
		msg        string
	}{
		{"throws", plugin.CapabilityPrimary, plugin.KindRuntime, "undefined is not a function"},
		{"ssrf", plugin.CapabilityPrimary, plugin.KindNetworkPolicy, "169.254.169.254"},
		{"no-listing", plugin.CapabilityListing, plugin.KindRuntime, "listing, parseFileList"},
		{"syntax-error", plugin.CapabilityPrimary, plugin.KindRuntime, "SyntaxError"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			res := coord.Execute(context.Background(), request(tt.source, tt.capability))
			assert.Equal(t, plugin.StateFailed, res.State)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.Contains(t, res.Error.Message, tt.msg)
		})
	}
}

func TestPanicBecomesHostErrorAndDestroysContext(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"panics": {entries: []string{"primary"}, run: func(*fakeContext) (any, error) {
			panic("interpreter bug")
		}},
	})
	coord, pool := newTestCoordinator(t, engine, Config{}, 1)

	res := coord.Execute(context.Background(), request("panics", plugin.CapabilityPrimary))
	assert.Equal(t, plugin.StateFailed, res.State)
	assert.Equal(t, plugin.KindHost, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "interpreter bug")
	assert.Equal(t, int64(1), pool.Stats().Destroyed)
}

func TestRequireGoesThroughChokePoint(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"modules": {entries: []string{"primary"}, run: func(fc *fakeContext) (any, error) {
			m, err := fc.bindings.Require("crypto")
			if err != nil {
				return nil, err
			}
			digest, _ := m.Exports["md5"]("abc")
			if _, err := fc.bindings.Require("child_process"); err != nil {
				fc.log("warn", "denied: {}", err.Error())
			}
			return digest, nil
		}},
	})
	coord, _ := newTestCoordinator(t, engine, Config{}, 1)

	res := coord.Execute(context.Background(), request("modules", plugin.CapabilityPrimary))
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", res.Value.Str)

	msgs := strings.Join(messages(res.Logs), "\n")
	assert.Contains(t, msgs, `access to host module "child_process" denied`)
	assert.Contains(t, msgs, "process-exec")
}

func TestCallerCancellation(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"wait": {entries: []string{"primary"}, run: func(fc *fakeContext) (any, error) {
			<-fc.interrupt
			return nil, errors.New("interrupted")
		}},
	})
	coord, _ := newTestCoordinator(t, engine, Config{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	ch := coord.Submit(ctx, request("wait", plugin.CapabilityPrimary))
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-ch:
		assert.Equal(t, plugin.StateCancelled, res.State)
		assert.Equal(t, plugin.KindCancelled, res.Error.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled execution did not finish")
	}
}

func TestOversizedSourceIsRejected(t *testing.T) {
	coord, _ := newTestCoordinator(t, newFakeEngine(nil), Config{MaxSourceBytes: 8}, 1)

	res := coord.Execute(context.Background(), request(strings.Repeat("x", 9), plugin.CapabilityPrimary))
	assert.Equal(t, plugin.StateFailed, res.State)
	assert.Equal(t, plugin.KindManifest, res.Error.Kind)
}

func TestConcurrentExecutionsKeepSeparateLogs(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"echo": {entries: []string{"primary"}, run: func(fc *fakeContext) (any, error) {
			page, _ := fc.bindings.Input["getOtherParamAsString"]("tag")
			for i := 0; i < 20; i++ {
				fc.log("info", "tag {} line {}", page, i)
			}
			time.Sleep(2 * time.Millisecond)
			return page, nil
		}},
	})
	coord, pool := newTestCoordinator(t, engine, Config{Workers: 8}, 2)

	const k = 12
	var wg sync.WaitGroup
	results := make([]*plugin.ExecutionResult, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request("echo", plugin.CapabilityPrimary)
			req.Input = plugin.NewInput("https://pan.example.com/s/x", "x", "", "demo", "Demo",
				map[string]any{"tag": fmt.Sprintf("t%02d", i)})
			results[i] = coord.Execute(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		tag := fmt.Sprintf("t%02d", i)
		require.True(t, res.Success, "%+v", res.Error)
		assert.Equal(t, tag, res.Value.Str)
		for _, e := range res.Logs {
			if e.Source == plugin.SourcePlugin {
				assert.True(t, strings.HasPrefix(e.Message, "tag "+tag+" "), e.Message)
			}
		}
	}
	assert.LessOrEqual(t, pool.Stats().Created, int64(2))
}

func TestStreamObservesLogsLive(t *testing.T) {
	engine := newFakeEngine(map[string]script{
		"chatty": {entries: []string{"primary"}, run: func(fc *fakeContext) (any, error) {
			fc.log("info", "hello")
			return "done", nil
		}},
	})
	coord, _ := newTestCoordinator(t, engine, Config{}, 1)

	var mu sync.Mutex
	var seen []string
	res := <-coord.Stream(context.Background(), request("chatty", plugin.CapabilityPrimary), func(e plugin.LogEntry) {
		mu.Lock()
		seen = append(seen, e.Message)
		mu.Unlock()
	})

	require.True(t, res.Success)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "hello")
	assert.Len(t, seen, len(res.Logs))
}

func TestIsolatedRunUsesFreshContext(t *testing.T) {
	engine := newFakeEngine(map[string]script{"ok": returns("x")})
	coord, pool := newTestCoordinator(t, engine, Config{}, 1)

	req := request("ok", plugin.CapabilityPrimary)
	req.Isolated = true
	res := coord.Execute(context.Background(), req)

	require.True(t, res.Success)
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Fresh)
	assert.Equal(t, int64(0), stats.Created)
	assert.Equal(t, int64(1), engine.closed.Load())
}

func TestUnknownLanguage(t *testing.T) {
	coord, _ := newTestCoordinator(t, newFakeEngine(nil), Config{}, 1)

	req := request("ok", plugin.CapabilityPrimary)
	req.Descriptor.Language = plugin.LanguagePython
	res := coord.Execute(context.Background(), req)

	assert.Equal(t, plugin.KindHost, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "no engine for language")
}
