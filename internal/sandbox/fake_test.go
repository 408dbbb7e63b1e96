package sandbox

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

// script is the behaviour a fake context runs for one source string
type script struct {
	entries []string
	run     func(fc *fakeContext) (any, error)
}

// fakeEngine maps plugin sources to scripted behaviour
type fakeEngine struct {
	lang      plugin.Language
	scripts   map[string]script
	created   atomic.Int64
	closed    atomic.Int64
	failReset bool
	failNew   error
}

func newFakeEngine(scripts map[string]script) *fakeEngine {
	return &fakeEngine{lang: plugin.LanguageJavaScript, scripts: scripts}
}

func (e *fakeEngine) Language() plugin.Language { return e.lang }

func (e *fakeEngine) NewContext() (Context, error) {
	if e.failNew != nil {
		return nil, e.failNew
	}
	e.created.Add(1)
	return &fakeContext{
		engine:    e,
		globals:   make(map[string]any),
		interrupt: make(chan struct{}),
	}, nil
}

type fakeContext struct {
	engine    *fakeEngine
	globals   map[string]any
	bindings  *Bindings
	current   script
	interrupt chan struct{}
	once      sync.Once
}

func (c *fakeContext) Bind(b *Bindings, source string) error {
	s, ok := c.engine.scripts[source]
	if !ok {
		return errors.New("SyntaxError: unknown fake source")
	}
	c.bindings = b
	c.current = s
	return nil
}

func (c *fakeContext) Resolve(names []string) (string, bool) {
	for _, n := range names {
		for _, e := range c.current.entries {
			if n == e {
				return n, true
			}
		}
	}
	return "", false
}

func (c *fakeContext) Invoke(string) (any, error) {
	return c.current.run(c)
}

func (c *fakeContext) Interrupt(string) {
	c.once.Do(func() { close(c.interrupt) })
}

func (c *fakeContext) Reset() error {
	if c.engine.failReset {
		return errors.New("reset unsupported")
	}
	c.globals = make(map[string]any)
	c.bindings = nil
	c.interrupt = make(chan struct{})
	c.once = sync.Once{}
	return nil
}

func (c *fakeContext) Close() error {
	c.engine.closed.Add(1)
	return nil
}

// log calls the bound plugin logger
func (c *fakeContext) log(level string, args ...any) {
	_, _ = c.bindings.Logger[level](args...)
}

func returns(v any) script {
	return script{entries: []string{"primary", "listing", "byId"}, run: func(*fakeContext) (any, error) { return v, nil }}
}
