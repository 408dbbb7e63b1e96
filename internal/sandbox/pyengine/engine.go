package pyengine

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox"
)

const (
	maxCachedPrograms = 256
	scriptName        = "plugin.py"
)

// Python spellings of the bound globals
const (
	GlobalInput  = "share_link_info"
	GlobalBridge = "http"
	GlobalLogger = "logger"
	GlobalFetch  = "fetch"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// isPredeclared reports the host globals only; builtins such as str and
// len resolve against starlark.Universe
func isPredeclared(name string) bool {
	switch name {
	case GlobalInput, GlobalBridge, GlobalLogger, GlobalFetch:
		return true
	}
	return false
}

// Engine creates Starlark contexts and caches compiled programs
type Engine struct {
	logger *zap.Logger

	mu       sync.Mutex
	programs map[[sha256.Size]byte]*starlark.Program
}

// New creates a Python-dialect engine
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.Named("pyengine"),
		programs: make(map[[sha256.Size]byte]*starlark.Program),
	}
}

func (e *Engine) Language() plugin.Language { return plugin.LanguagePython }

// NewContext creates an empty context; Starlark globals live per Bind
func (e *Engine) NewContext() (sandbox.Context, error) {
	c := &Context{engine: e}
	c.modules = stdlib(c.done)
	if err := c.Reset(); err != nil {
		return nil, err
	}
	return c, nil
}

// compile translates and compiles source, once per distinct source
func (e *Engine) compile(source string) (*starlark.Program, error) {
	key := sha256.Sum256([]byte(source))

	e.mu.Lock()
	prog, ok := e.programs[key]
	e.mu.Unlock()
	if ok {
		return prog, nil
	}

	_, prog, err := starlark.SourceProgramOptions(fileOptions, scriptName, Translate(source), isPredeclared)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[[sha256.Size]byte]*starlark.Program)
		e.logger.Debug("Program cache flushed")
	}
	e.programs[key] = prog
	e.mu.Unlock()
	return prog, nil
}

// Context is one Starlark thread and the globals of one bound plugin
type Context struct {
	engine *Engine

	mu          sync.Mutex // guards thread, cancelled and interrupted
	thread      *starlark.Thread
	cancelled   string
	interrupted chan struct{}

	bindings *sandbox.Bindings
	globals  starlark.StringDict
	args     starlark.Tuple
	modules  map[string]starlark.StringDict
	loaded   map[string]starlark.StringDict

	// hostErr is the last error a host function raised
	hostErr error
}

func (c *Context) fail(err error) { c.hostErr = err }

func (c *Context) done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// Bind installs the host objects and executes source
func (c *Context) Bind(b *sandbox.Bindings, source string) error {
	prog, err := c.engine.compile(source)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}

	c.bindings = b
	c.hostErr = nil
	c.loaded = make(map[string]starlark.StringDict)

	input := toStarlark(b.Input, c.fail)
	bridge := toStarlark(b.Bridge, c.fail)
	logger := toStarlark(b.Logger, c.fail)
	c.args = starlark.Tuple{input, bridge, logger}

	predeclared := starlark.StringDict{
		GlobalInput:  input,
		GlobalBridge: bridge,
		GlobalLogger: logger,
	}
	if b.Fetch != nil {
		predeclared[GlobalFetch] = toStarlark(b.Fetch, c.fail)
	}

	thread := &starlark.Thread{
		Name:  "plugin",
		Print: c.print,
		Load:  c.load,
	}
	c.mu.Lock()
	c.thread = thread
	if c.cancelled != "" {
		thread.Cancel(c.cancelled)
	}
	c.mu.Unlock()

	globals, err := prog.Init(thread, predeclared)
	if err != nil {
		return c.wrapErr(err)
	}
	c.globals = globals
	return nil
}

// print sends print() output to the plugin logger
func (c *Context) print(_ *starlark.Thread, msg string) {
	if c.bindings == nil || c.bindings.Logger == nil {
		return
	}
	if fn, ok := c.bindings.Logger["info"]; ok {
		_, _ = fn(msg)
	}
}

// load serves the fixed module table, then host modules through Require
func (c *Context) load(_ *starlark.Thread, name string) (starlark.StringDict, error) {
	if d, ok := c.loaded[name]; ok {
		return d, nil
	}
	if d, ok := c.modules[name]; ok {
		c.loaded[name] = d
		return d, nil
	}
	if c.bindings == nil || c.bindings.Require == nil {
		return nil, fmt.Errorf("module %q is not available", name)
	}

	m, err := c.bindings.Require(name)
	if err != nil {
		c.hostErr = err
		return nil, err
	}
	members := members(m.Exports, c.fail)
	d := make(starlark.StringDict, len(members)+1)
	for k, v := range members {
		d[k] = v
	}
	d[m.Name] = &starlarkstruct.Module{Name: m.Name, Members: members}
	c.loaded[name] = d
	return d, nil
}

// Resolve returns the first name bound to a callable global
func (c *Context) Resolve(names []string) (string, bool) {
	for _, name := range names {
		if _, ok := c.globals[name].(starlark.Callable); ok {
			return name, true
		}
	}
	return "", false
}

// Invoke calls the named function with (share_link_info, http, logger)
func (c *Context) Invoke(name string) (any, error) {
	fn, ok := c.globals[name].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s is not callable", name)
	}
	c.mu.Lock()
	thread := c.thread
	c.mu.Unlock()

	c.hostErr = nil
	v, err := starlark.Call(thread, fn, c.args, nil)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	return fromStarlark(v), nil
}

// Interrupt cancels the running thread. Safe for concurrent use.
func (c *Context) Interrupt(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled != "" {
		return
	}
	c.cancelled = reason
	close(c.interrupted)
	if c.thread != nil {
		c.thread.Cancel(reason)
	}
}

// Reset drops the bound globals; each Bind starts from a new thread
// and the immutable universe, so nothing survives
func (c *Context) Reset() error {
	c.mu.Lock()
	c.thread = nil
	c.cancelled = ""
	c.interrupted = make(chan struct{})
	c.mu.Unlock()

	c.bindings = nil
	c.globals = nil
	c.args = nil
	c.loaded = nil
	c.hostErr = nil
	return nil
}

// Close releases the context
func (c *Context) Close() error {
	c.mu.Lock()
	c.thread = nil
	c.mu.Unlock()
	c.globals = nil
	c.bindings = nil
	return nil
}

// wrapErr maps Starlark errors back to sandbox errors. A typed host
// error that escaped the script keeps its kind.
func (c *Context) wrapErr(err error) error {
	var pe *plugin.Error
	if errors.As(err, &pe) {
		return pe
	}
	if c.hostErr != nil && errors.As(c.hostErr, &pe) && strings.Contains(err.Error(), pe.Error()) {
		return pe
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}
