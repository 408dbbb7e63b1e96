package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/security"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/shared/id"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/shared/utils"
)

var (
	ErrPluginExists   = errors.New("plugin type already registered")
	ErrPluginNotFound = errors.New("plugin not found")
)

// Origin records where a plugin came from
type Origin string

const (
	OriginDirectory Origin = "directory"
	OriginAPI       Origin = "api"
	OriginCLI       Origin = "cli"
)

// Entry is a registered plugin together with its cached security verdict
type Entry struct {
	ID           id.PluginID        `json:"id"`
	Descriptor   *plugin.Descriptor `json:"descriptor"`
	Security     security.Result    `json:"security"`
	RegisteredAt time.Time          `json:"registered_at"`
	Origin       Origin             `json:"origin"`
	Path         string             `json:"path,omitempty"`
	Digest       string             `json:"digest"`
}

// Options tunes how sources are accepted
type Options struct {
	MaxSourceBytes int
}

// Registry holds vetted plugins keyed by type. Match consults plugins in
// registration order.
type Registry struct {
	security *security.Engine
	options  Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// NewRegistry creates an empty registry that vets plugins with policies
func NewRegistry(policies *security.Engine, options Options, logger *zap.Logger, metrics *monitoring.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		security: policies,
		options:  options,
		logger:   logger.Named("registry"),
		metrics:  metrics,
		entries:  make(map[string]*Entry),
	}
}

// Vet parses source and runs the security policy without registering it
func (r *Registry) Vet(source string, lang plugin.Language) (*plugin.Descriptor, security.Result, error) {
	d, err := manifest.ParseWithOptions(source, manifest.Options{
		MaxSourceBytes: r.options.MaxSourceBytes,
		Language:       lang,
	})
	if err != nil {
		return nil, security.Result{}, err
	}
	result := r.security.Check(d)
	return d, result, result.Err()
}

// Register parses, vets and stores a plugin. A type that is already
// registered is rejected with ErrPluginExists.
func (r *Registry) Register(source string, origin Origin) (*Entry, error) {
	return r.add(source, "", origin, false)
}

// RegisterFile is Register for a plugin loaded from path
func (r *Registry) RegisterFile(source, path string) (*Entry, error) {
	return r.add(source, path, OriginDirectory, false)
}

// Replace registers a plugin, overwriting any plugin of the same type
func (r *Registry) Replace(source string, origin Origin) (*Entry, error) {
	return r.add(source, "", origin, true)
}

func (r *Registry) add(source, path string, origin Origin, replace bool) (*Entry, error) {
	d, result, err := r.Vet(source, "")
	if err != nil {
		if plugin.IsKind(err, plugin.KindSecurity) {
			r.logger.Warn("Plugin rejected by security policy",
				zap.String("type", d.Type),
				zap.String("policy", result.Policy),
				zap.Int("violations", len(result.Violations)))
		}
		return nil, err
	}

	entry := &Entry{
		ID:           id.NewPluginID(),
		Descriptor:   d,
		Security:     result,
		RegisteredAt: time.Now(),
		Origin:       origin,
		Path:         path,
		Digest:       utils.SourceDigest(source),
	}

	r.mu.Lock()
	if prev, exists := r.entries[d.Type]; exists {
		if !replace {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrPluginExists, d.Type)
		}
		if prev.Digest == entry.Digest {
			r.mu.Unlock()
			r.logger.Debug("Plugin unchanged, keeping registration",
				zap.String("type", d.Type),
				zap.String("digest", utils.ShortDigest(prev.Digest)))
			return prev, nil
		}
	} else {
		r.order = append(r.order, d.Type)
	}
	r.entries[d.Type] = entry
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetPluginsRegistered(count)
	r.logger.Info("Plugin registered",
		zap.String("type", d.Type),
		zap.String("language", string(d.Language)),
		zap.String("id", entry.ID.String()),
		zap.String("digest", utils.ShortDigest(entry.Digest)),
		zap.String("origin", string(origin)))
	return entry, nil
}

// Unregister removes the plugin of type typ
func (r *Registry) Unregister(typ string) error {
	r.mu.Lock()
	if _, ok := r.entries[typ]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, typ)
	}
	delete(r.entries, typ)
	for i, t := range r.order {
		if t == typ {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetPluginsRegistered(count)
	r.logger.Info("Plugin unregistered", zap.String("type", typ))
	return nil
}

// Get returns the plugin of type typ
func (r *Registry) Get(typ string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	return e, ok
}

// Contains reports whether typ is registered
func (r *Registry) Contains(typ string) bool {
	_, ok := r.Get(typ)
	return ok
}

// List returns every entry sorted by type
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor.Type < out[j].Descriptor.Type
	})
	return out
}

// Match finds the first plugin whose pattern matches url and builds its
// input. password overrides a PWD group capture when non-empty.
func (r *Registry) Match(url, password string, extra map[string]any) (*Entry, plugin.Input, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, typ := range r.order {
		e := r.entries[typ]
		if in, ok := e.Descriptor.Input(url, password, extra); ok {
			return e, in, true
		}
	}
	return nil, plugin.Input{}, false
}

// Count returns the number of registered plugins
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
