package resilience

import (
	"sort"
	"sync"
)

// Group lazily creates one breaker per key (an upstream host) sharing
// the same settings
type Group struct {
	prefix   string
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty group
func NewGroup(prefix string, settings Settings) *Group {
	return &Group{
		prefix:   prefix,
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = New(g.prefix+":"+key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// Execute runs fn through the breaker for key
func (g *Group) Execute(key string, fn func() error) error {
	return g.Get(key).Execute(fn)
}

// States returns the state of every breaker by key
func (g *Group) States() map[string]State {
	g.mu.Lock()
	keys := make([]string, 0, len(g.breakers))
	breakers := make([]*Breaker, 0, len(g.breakers))
	for k, b := range g.breakers {
		keys = append(keys, k)
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	out := make(map[string]State, len(keys))
	for i, k := range keys {
		out[k] = breakers[i].State()
	}
	return out
}

// Open returns the keys whose breaker is open, sorted
func (g *Group) Open() []string {
	var open []string
	for k, s := range g.States() {
		if s == StateOpen {
			open = append(open, k)
		}
	}
	sort.Strings(open)
	return open
}
