package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/client"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/security"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/shared/id"
)

// Deps are the collaborators a Coordinator runs plugins with
type Deps struct {
	Pools    map[plugin.Language]*Pool
	Bridge   *client.Bridge
	Security *security.Engine
	Modules  []host.Module
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
}

// Coordinator runs plugin capabilities on a dedicated worker pool,
// enforcing the timeout and always producing a structured result
type Coordinator struct {
	config   Config
	pools    map[plugin.Language]*Pool
	workers  *WorkerPool
	bridge   *client.Bridge
	security *security.Engine
	modules  map[string]host.Module
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewCoordinator creates a coordinator and starts its workers
func NewCoordinator(config Config, deps Deps) *Coordinator {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Grace <= 0 {
		config.Grace = defaults.Grace
	}
	if config.MaxLogEntries <= 0 {
		config.MaxLogEntries = defaults.MaxLogEntries
	}
	if config.MaxSourceBytes <= 0 {
		config.MaxSourceBytes = defaults.MaxSourceBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	modules := make(map[string]host.Module, len(deps.Modules))
	for _, m := range deps.Modules {
		modules[m.Name] = m
	}

	return &Coordinator{
		config:   config,
		pools:    deps.Pools,
		workers:  NewWorkerPool(config.Workers, config.QueueSize, logger, deps.Metrics),
		bridge:   deps.Bridge,
		security: deps.Security,
		modules:  modules,
		logger:   logger.Named("coordinator"),
		metrics:  deps.Metrics,
	}
}

// Submit queues req and returns a channel that receives exactly one result
func (c *Coordinator) Submit(ctx context.Context, req plugin.ExecutionRequest) <-chan *plugin.ExecutionResult {
	return c.submit(ctx, req, nil)
}

// Stream is Submit with every log entry passed to observe as it is emitted
func (c *Coordinator) Stream(ctx context.Context, req plugin.ExecutionRequest, observe func(plugin.LogEntry)) <-chan *plugin.ExecutionResult {
	return c.submit(ctx, req, observe)
}

// Execute runs req and waits for its result
func (c *Coordinator) Execute(ctx context.Context, req plugin.ExecutionRequest) *plugin.ExecutionResult {
	return <-c.Submit(ctx, req)
}

func (c *Coordinator) submit(ctx context.Context, req plugin.ExecutionRequest, observe func(plugin.LogEntry)) <-chan *plugin.ExecutionResult {
	if req.ID == "" {
		req.ID = id.NewExecutionID().String()
	}
	out := make(chan *plugin.ExecutionResult, 1)

	e := c.newExecution(req, observe)
	e.sink.Info("execution %s %s", req.ID, plugin.StatePending)

	err := c.workers.Submit(func() {
		if err := ctx.Err(); err != nil {
			out <- e.finish(plugin.StateCancelled, nil, cancelledError(err))
			return
		}
		out <- c.run(ctx, e)
	})
	if err != nil {
		c.logger.Warn("Execution rejected", zap.String("execution_id", req.ID), zap.Error(err))
		out <- e.finish(plugin.StateFailed, nil, plugin.HostError("execution rejected", err))
	}
	return out
}

// execution carries the per-run state shared by the worker and its helpers
type execution struct {
	req    plugin.ExecutionRequest
	sink   *LogSink
	logger *zap.Logger
	timer  *monitoring.Timer
	start  time.Time
	plugin string
	lang   plugin.Language
}

func (c *Coordinator) newExecution(req plugin.ExecutionRequest, observe func(plugin.LogEntry)) *execution {
	var pluginType string
	var lang plugin.Language
	if req.Descriptor != nil {
		pluginType = req.Descriptor.Type
		lang = req.Descriptor.Language
	}
	logger := c.logger.With(zap.String("execution_id", req.ID), zap.String("plugin", pluginType))
	sink := NewLogSink(c.config.MaxLogEntries, logger)
	if observe != nil {
		sink.Subscribe(observe)
	}
	return &execution{
		req:    req,
		sink:   sink,
		logger: logger,
		timer:  monitoring.NewTimer(c.metrics, string(lang), string(req.Capability)),
		start:  time.Now(),
		plugin: pluginType,
		lang:   lang,
	}
}

// finish builds the result; logs are snapshotted last so every host
// line about the outcome is included
func (e *execution) finish(state plugin.State, value *plugin.Value, err error) *plugin.ExecutionResult {
	res := &plugin.ExecutionResult{
		ID:         e.req.ID,
		Plugin:     e.plugin,
		Capability: e.req.Capability,
		State:      state,
	}
	if value != nil {
		res.Value = *value
		res.Success = state == plugin.StateCompleted
	}
	if err != nil {
		res.Success = false
		res.Error = errorInfo(err)
		e.sink.Error("execution %s %s: %s", e.req.ID, state, res.Error.Message)
	} else {
		e.sink.Info("execution %s %s", e.req.ID, state)
	}

	duration := e.timer.Stop(string(state))
	res.ElapsedMillis = duration.Milliseconds()
	res.Logs = e.sink.Entries()

	e.logger.Info("Execution finished",
		zap.String("state", string(state)),
		zap.Duration("elapsed", duration),
	)
	return res
}

type outcome struct {
	raw      any
	err      error
	panicked bool
}

// run drives one execution through PENDING, BOUND and RUNNING to a
// terminal state. It never panics.
func (c *Coordinator) run(ctx context.Context, e *execution) (res *plugin.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Coordinator panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = e.finish(plugin.StateFailed, nil, plugin.HostError(fmt.Sprintf("internal panic: %v", r), nil))
		}
	}()

	req := e.req
	if err := c.validate(req); err != nil {
		return e.finish(plugin.StateFailed, nil, err)
	}

	pool, ok := c.pools[e.lang]
	if !ok {
		return e.finish(plugin.StateFailed, nil, plugin.HostError(string(e.lang), ErrNoEngine))
	}

	pc, err := c.acquire(ctx, pool, req.Isolated)
	if err != nil {
		if ctx.Err() != nil {
			return e.finish(plugin.StateCancelled, nil, cancelledError(ctx.Err()))
		}
		return e.finish(plugin.StateFailed, nil, plugin.HostError("failed to acquire context", err))
	}
	e.sink.Debug("acquired %s context (uses %d)", pc.Origin, pc.Uses)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpc, err := c.newClient(req.Input)
	if err != nil {
		pool.Release(pc)
		return e.finish(plugin.StateFailed, nil, err)
	}
	defer httpc.Close()

	bindings := &Bindings{
		Input:   InputObject(req.Input),
		Bridge:  BridgeObject(execCtx, httpc),
		Logger:  LoggerObject(e.sink),
		Fetch:   FetchFunc(execCtx, httpc),
		Require: c.requireFunc(e.lang, e.sink),
	}

	done := make(chan outcome, 1)
	go c.invoke(pc, bindings, e, done)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	expired := make(chan struct{})
	timer := time.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	var (
		out  outcome
		stop plugin.State
		why  error
	)
	select {
	case out = <-done:
	case <-expired:
		stop = plugin.StateTimedOut
		why = plugin.TimeoutError("execution exceeded %s", timeout)
	case <-ctx.Done():
		stop = plugin.StateCancelled
		why = cancelledError(ctx.Err())
	}

	if stop == "" {
		return c.complete(pool, pc, e, out)
	}

	e.sink.Warn("interrupting execution: %s", strings.ToLower(string(stop)))
	cancel()
	pc.Interrupt(string(stop))

	select {
	case <-done:
		pool.Discard(pc, string(stop))
	case <-time.After(c.config.Grace):
		e.sink.Warn("execution did not stop within %s grace, abandoning context", c.config.Grace)
		go func() {
			<-done
			pool.Discard(pc, "abandoned")
		}()
	}
	return e.finish(stop, nil, why)
}

// invoke binds, resolves and calls the entry point on its own goroutine
// so the coordinator can walk away from it after a timeout
func (c *Coordinator) invoke(pc *PooledContext, b *Bindings, e *execution, done chan<- outcome) {
	var o outcome
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Plugin invocation panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			o = outcome{err: plugin.HostError(fmt.Sprintf("interpreter panic: %v", r), nil), panicked: true}
		}
		done <- o
	}()

	req := e.req
	if err := pc.Bind(b, req.Descriptor.Source); err != nil {
		o.err = classify(err)
		return
	}
	pc.Bound = true
	e.sink.Info("execution %s %s", req.ID, plugin.StateBound)

	entries := req.Capability.EntryPoints(e.lang)
	name, ok := pc.Resolve(entries)
	if !ok {
		o.err = plugin.RuntimeError(fmt.Errorf("no %s entry point defined, expected one of %s",
			req.Capability, strings.Join(entries, ", ")))
		return
	}

	e.sink.Info("execution %s %s: %s()", req.ID, plugin.StateRunning, name)
	raw, err := pc.Invoke(name)
	if err != nil {
		o.err = classify(err)
		return
	}
	o.raw = raw
}

// complete turns a finished invocation into a result and recycles the context
func (c *Coordinator) complete(pool *Pool, pc *PooledContext, e *execution, out outcome) *plugin.ExecutionResult {
	if out.panicked {
		pool.Discard(pc, "panicked")
	} else {
		pool.Release(pc)
	}

	if out.err != nil {
		return e.finish(plugin.StateFailed, nil, out.err)
	}
	value, err := AdaptResult(e.req.Capability, out.raw)
	if err != nil {
		return e.finish(plugin.StateFailed, nil, err)
	}
	if value.Kind == plugin.ValueFileList {
		e.sink.Info("listing returned %d file(s)", len(value.Files))
	}
	return e.finish(plugin.StateCompleted, &value, nil)
}

func (c *Coordinator) validate(req plugin.ExecutionRequest) error {
	if req.Descriptor == nil {
		return plugin.HostError("execution request has no descriptor", nil)
	}
	if len(req.Descriptor.Source) > c.config.MaxSourceBytes {
		return plugin.ManifestError("source", "plugin source is %d bytes, limit is %d",
			len(req.Descriptor.Source), c.config.MaxSourceBytes)
	}
	if _, ok := plugin.ParseCapability(string(req.Capability)); !ok {
		return plugin.HostError(fmt.Sprintf("unknown capability %q", req.Capability), nil)
	}
	return nil
}

func (c *Coordinator) acquire(ctx context.Context, pool *Pool, isolated bool) (*PooledContext, error) {
	if isolated {
		return pool.CreateFresh()
	}
	return pool.Acquire(ctx)
}

// newClient builds the per-execution bridge client, honouring a proxy
// passed in the input's extra parameters
func (c *Coordinator) newClient(in plugin.Input) (*client.Client, error) {
	if c.bridge == nil {
		return nil, plugin.HostError("network bridge is not configured", nil)
	}
	proxy, err := client.ProxyFromParams(in.AllOtherParams())
	if err != nil {
		return nil, plugin.HostError("invalid proxy parameter", err)
	}
	httpc, err := c.bridge.NewClient(proxy)
	if err != nil {
		return nil, plugin.HostError("failed to create http client", err)
	}
	return httpc, nil
}

// requireFunc resolves host modules through the language's policy. Only
// choke-point policies judge names at runtime.
func (c *Coordinator) requireFunc(lang plugin.Language, sink *LogSink) func(string) (host.Module, error) {
	var authz security.Authorizer
	if c.security != nil {
		if p, ok := c.security.Policy(lang); ok {
			authz, _ = p.(security.Authorizer)
		}
	}

	return func(name string) (host.Module, error) {
		if authz != nil {
			if err := authz.Authorize(name); err != nil {
				sink.Error("access to host module %q denied", name)
				return host.Module{}, err
			}
		}
		m, ok := c.modules[name]
		if !ok {
			return host.Module{}, fmt.Errorf("module %q not found", name)
		}
		sink.Debug("loaded host module %q", name)
		return m, nil
	}
}

// Modules returns the names of the host modules plugins may load
func (c *Coordinator) Modules() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the statistics of every pool
func (c *Coordinator) Stats() []PoolStats {
	stats := make([]PoolStats, 0, len(c.pools))
	for _, p := range c.pools {
		stats = append(stats, p.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Language < stats[j].Language })
	return stats
}

// QueueDepth returns the number of executions waiting for a worker
func (c *Coordinator) QueueDepth() int {
	return c.workers.QueueDepth()
}

// Close drains queued executions, then closes every pool
func (c *Coordinator) Close() error {
	c.workers.Close()
	var errs []error
	for _, p := range c.pools {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// classify keeps typed sandbox errors and wraps anything else as an
// uncaught plugin error
func classify(err error) error {
	var pe *plugin.Error
	if errors.As(err, &pe) {
		return pe
	}
	return plugin.RuntimeError(err)
}

func cancelledError(err error) *plugin.Error {
	return &plugin.Error{Kind: plugin.KindCancelled, Message: "execution cancelled", Err: err}
}

func errorInfo(err error) *plugin.ErrorInfo {
	var pe *plugin.Error
	if errors.As(err, &pe) {
		return pe.Info()
	}
	return &plugin.ErrorInfo{Kind: plugin.KindHost, Message: err.Error()}
}
