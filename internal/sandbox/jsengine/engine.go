package jsengine

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox"
)

const (
	maxCallStack    = 1024
	maxCachedScript = 256
	scriptName      = "plugin.js"
)

// hardenScript disables dynamic evaluation and freezes the intrinsics
// plugins could otherwise use to leak state between executions
const hardenScript = `(function (g) {
	"use strict";
	var blocked = function () { throw new EvalError("dynamic code evaluation is disabled"); };
	blocked.prototype = Function.prototype;
	var protos = [
		Function.prototype,
		Object.getPrototypeOf(function* () {}),
		Object.getPrototypeOf(async function () {})
	];
	protos.forEach(function (p) {
		Object.defineProperty(p, "constructor", { value: blocked, writable: false, configurable: false });
	});
	g.Function = blocked;
	g.eval = undefined;
	["Object", "Array", "String", "Number", "Boolean", "Symbol", "RegExp", "Date",
	 "Promise", "Map", "Set", "WeakMap", "JSON", "Math", "Reflect"].forEach(function (n) {
		var v = g[n];
		if (!v) return;
		Object.freeze(v);
		if (v.prototype) Object.freeze(v.prototype);
	});
	Object.freeze(Function.prototype);
})(this);`

var hardenProgram = goja.MustCompile("harden.js", hardenScript, false)

// removedGlobals are blanked in every runtime
var removedGlobals = []string{"process", "module", "exports", "Java", "Packages"}

// Engine creates goja contexts and caches compiled plugin programs
type Engine struct {
	logger *zap.Logger

	mu       sync.Mutex
	programs map[[sha256.Size]byte]*goja.Program
}

// New creates a JavaScript engine
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.Named("jsengine"),
		programs: make(map[[sha256.Size]byte]*goja.Program),
	}
}

func (e *Engine) Language() plugin.Language { return plugin.LanguageJavaScript }

// NewContext creates a hardened runtime
func (e *Engine) NewContext() (sandbox.Context, error) {
	c := &Context{engine: e}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

// compile returns the cached program for source, compiling it once
func (e *Engine) compile(source string) (*goja.Program, error) {
	key := sha256.Sum256([]byte(source))

	e.mu.Lock()
	prog, ok := e.programs[key]
	e.mu.Unlock()
	if ok {
		return prog, nil
	}

	prog, err := goja.Compile(scriptName, source, false)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.programs) >= maxCachedScript {
		e.programs = make(map[[sha256.Size]byte]*goja.Program)
		e.logger.Debug("Program cache flushed")
	}
	e.programs[key] = prog
	e.mu.Unlock()
	return prog, nil
}

// Context is one goja runtime
type Context struct {
	engine *Engine

	mu sync.Mutex // guards vm for Interrupt
	vm *goja.Runtime

	bindings *sandbox.Bindings
	args     []goja.Value
	dirty    bool

	// hostErr is the last error a host function threw into the runtime
	hostErr error
}

// rebuild replaces the runtime with a freshly hardened one. Top-level
// let and const bindings cannot be removed from a goja global scope, so
// a used runtime is never reused as is.
func (c *Context) rebuild() error {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStack)

	for _, name := range removedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	if err := vm.Set("require", c.require); err != nil {
		return err
	}
	if err := vm.Set("console", c.console(vm)); err != nil {
		return err
	}

	// timers are no-ops
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return err
		}
	}

	if _, err := vm.RunProgram(hardenProgram); err != nil {
		return fmt.Errorf("failed to harden runtime: %w", err)
	}

	c.mu.Lock()
	c.vm = vm
	c.mu.Unlock()
	return nil
}

// console routes console.* to the bound logger object
func (c *Context) console(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			if c.bindings == nil || c.bindings.Logger == nil {
				return goja.Undefined()
			}
			fn, ok := c.bindings.Logger[level]
			if !ok {
				return goja.Undefined()
			}
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			_, _ = fn(strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	return obj
}

// require loads a host module through the execution's Require hook
func (c *Context) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if c.bindings == nil || c.bindings.Require == nil {
		c.throw(fmt.Errorf("require(%q) is not available", name))
	}
	m, err := c.bindings.Require(name)
	if err != nil {
		c.throw(err)
	}
	return c.toValue(m.Exports)
}

// Bind installs the host objects and evaluates source
func (c *Context) Bind(b *sandbox.Bindings, source string) error {
	prog, err := c.engine.compile(source)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}

	c.bindings = b
	c.dirty = true
	c.hostErr = nil

	input := c.toValue(b.Input)
	bridge := c.toValue(b.Bridge)
	logger := c.toValue(b.Logger)
	c.args = []goja.Value{input, bridge, logger}

	globals := map[string]goja.Value{
		sandbox.GlobalInput:  input,
		sandbox.GlobalBridge: bridge,
		sandbox.GlobalLogger: logger,
	}
	if b.Fetch != nil {
		globals[sandbox.GlobalFetch] = c.toValue(b.Fetch)
	}
	for name, v := range globals {
		if err := c.vm.Set(name, v); err != nil {
			return err
		}
	}

	_, err = c.vm.RunProgram(prog)
	return c.wrapErr(err)
}

// Resolve returns the first name bound to a function
func (c *Context) Resolve(names []string) (string, bool) {
	for _, name := range names {
		if _, ok := goja.AssertFunction(c.vm.Get(name)); ok {
			return name, true
		}
	}
	return "", false
}

// Invoke calls the named function with (input, bridge, logger)
func (c *Context) Invoke(name string) (any, error) {
	fn, ok := goja.AssertFunction(c.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", name)
	}
	c.hostErr = nil
	v, err := fn(goja.Undefined(), c.args...)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	return export(v), nil
}

// Interrupt aborts the running script. Safe for concurrent use.
func (c *Context) Interrupt(reason string) {
	c.mu.Lock()
	vm := c.vm
	c.mu.Unlock()
	if vm != nil {
		vm.Interrupt(reason)
	}
}

// Reset drops every binding the last execution made
func (c *Context) Reset() error {
	c.bindings = nil
	c.args = nil
	c.hostErr = nil
	if !c.dirty {
		c.vm.ClearInterrupt()
		return nil
	}
	c.dirty = false
	return c.rebuild()
}

// Close releases the runtime
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vm = nil
	c.bindings = nil
	c.args = nil
	return nil
}

// throw raises err inside the runtime as a GoError
func (c *Context) throw(err error) {
	c.hostErr = err
	panic(c.vm.NewGoError(err))
}

// wrapErr maps interpreter errors back to sandbox errors. A typed host
// error that escaped the script keeps its kind.
func (c *Context) wrapErr(err error) error {
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("interrupted: %v", interrupted.Value())
	}

	var pe *plugin.Error
	if errors.As(err, &pe) {
		return pe
	}
	if c.hostErr != nil && errors.As(c.hostErr, &pe) && strings.Contains(err.Error(), pe.Error()) {
		return pe
	}
	return err
}
