package sandbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

var (
	ErrPoolClosed     = errors.New("context pool is closed")
	ErrAcquireTimeout = errors.New("context acquisition timeout")
	ErrQueueFull      = errors.New("execution queue is full")
	ErrWorkersClosed  = errors.New("worker pool is closed")
	ErrNoEngine       = errors.New("no engine for language")
)

// Engine creates interpreter contexts for one language
type Engine interface {
	Language() plugin.Language
	NewContext() (Context, error)
}

// Context is one interpreter instance. A context is used by one
// goroutine at a time; only Interrupt may be called concurrently.
type Context interface {
	// Bind installs the host globals and evaluates source once
	Bind(b *Bindings, source string) error
	// Resolve returns the first name bound to a callable global
	Resolve(names []string) (string, bool)
	// Invoke calls the named entry point with the bound input, bridge
	// and logger objects and returns the result as a plain Go value
	Invoke(name string) (any, error)
	// Interrupt aborts a running Bind or Invoke
	Interrupt(reason string)
	// Reset restores the global namespace to its post-construction
	// state. Contexts that cannot reset return an error and are destroyed.
	Reset() error
	Close() error
}

// Global names under which host objects are bound
const (
	GlobalInput  = "shareLinkInfo"
	GlobalBridge = "http"
	GlobalLogger = "logger"
	GlobalFetch  = "fetch"
)

// Bindings are the host objects injected into one execution
type Bindings struct {
	Input  host.Object
	Bridge host.Object
	Logger host.Object
	// Fetch is an optional fetch(url, options) convenience over Bridge
	Fetch host.Func
	// Require resolves a host module by name through the security policy
	Require func(name string) (host.Module, error)
}

// Config controls execution dispatch
type Config struct {
	Timeout        time.Duration
	Grace          time.Duration
	Workers        int
	QueueSize      int
	MaxLogEntries  int
	MaxSourceBytes int
}

// DefaultConfig returns the deployment defaults
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		Grace:          2 * time.Second,
		Workers:        16,
		QueueSize:      256,
		MaxLogEntries:  1000,
		MaxSourceBytes: 128 << 10,
	}
}
