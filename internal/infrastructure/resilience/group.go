package resilience

import (
	"sort"
	"strings"
	"sync"
)

// Group hands out one breaker per key, creating them on first use.
// The bridge keys breakers by upstream host so one failing site does
// not block plugins talking to healthy ones.
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a group whose breakers share settings
func NewGroup(settings Settings) *Group {
	return &Group{settings: settings, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key
func (g *Group) Get(key string) *Breaker {
	key = strings.ToLower(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// States reports the state of every breaker created so far
func (g *Group) States() map[string]State {
	g.mu.Lock()
	keys := make([]string, 0, len(g.breakers))
	for k := range g.breakers {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	sort.Strings(keys)
	out := make(map[string]State, len(keys))
	for _, k := range keys {
		out[k] = g.Get(k).State()
	}
	return out
}
