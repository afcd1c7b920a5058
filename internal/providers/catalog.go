package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/scriptkit/internal/domain/adapter"
	"github.com/GriffinCanCode/scriptkit/internal/domain/registry"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Categories used by the built-ins
const (
	CategoryAnalytics = "analytics"
	CategorySupport   = "support"
	CategoryPayments  = "payments"
)

// ErrNotFound is returned for unknown provider keys
var ErrNotFound = errors.New("provider not found")

// Provider is a registered script provider. *adapter.Definition satisfies it.
type Provider interface {
	ProviderKey() string
	Validate(opts adapter.Options) adapter.Result
	UseAny(scope *async.Scope, env adapter.Env, opts adapter.Options, overrides ...adapter.Override) (*registry.Handle, error)
}

// Registration describes a provider to the catalogue
type Registration struct {
	Key         string   `json:"key" yaml:"key" toml:"key"`
	Category    string   `json:"category" yaml:"category" toml:"category"`
	Label       string   `json:"label" yaml:"label" toml:"label"`
	Description string   `json:"description,omitempty" yaml:"description" toml:"description"`
	ImportName  string   `json:"importName" yaml:"importName" toml:"importName"`
	ImportPath  string   `json:"importPath,omitempty" yaml:"importPath" toml:"importPath"`
	Hosts       []string `json:"hosts,omitempty" yaml:"hosts" toml:"hosts"`
	// Source is "builtin" or the manifest path
	Source string `json:"source" yaml:"-" toml:"-"`
	// Factory is set for built-ins; manifests build one from ImportPath
	Factory Provider `json:"-" yaml:"-" toml:"-"`
}

// Validate checks the registration contract
func (r Registration) Validate() error {
	switch {
	case strings.TrimSpace(r.Key) == "":
		return errors.New("registration key is required")
	case r.Category == "":
		return fmt.Errorf("%s: category is required", r.Key)
	case r.Label == "":
		return fmt.Errorf("%s: label is required", r.Key)
	case r.Factory == nil && r.ImportPath == "":
		return fmt.Errorf("%s: importPath or factory is required", r.Key)
	case r.Factory != nil && r.Factory.ProviderKey() != r.Key:
		return fmt.Errorf("%s: factory is bound to %q", r.Key, r.Factory.ProviderKey())
	}
	return nil
}

// Catalog is the set of known providers
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewCatalog creates an empty catalogue
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Registration)}
}

// Register adds or replaces a provider
func (c *Catalog) Register(reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	if reg.Factory == nil {
		return fmt.Errorf("%s: no factory", reg.Key)
	}
	if reg.ImportName == "" {
		reg.ImportName = importName(reg.Key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[reg.Key] = reg
	return nil
}

// Unregister removes a provider
func (c *Catalog) Unregister(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// RemoveSource removes every provider registered from source
func (c *Catalog) RemoveSource(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, reg := range c.entries {
		if reg.Source == source {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Get returns the provider registered under key
func (c *Catalog) Get(key string) (Registration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.entries[key]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return reg, nil
}

// List returns providers sorted by key, optionally filtered by category
func (c *Catalog) List(category string) []Registration {
	c.mu.RLock()
	out := make([]Registration, 0, len(c.entries))
	for _, reg := range c.entries {
		if category == "" || reg.Category == category {
			out = append(out, reg)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns the registered keys, sorted
func (c *Catalog) Keys() []string {
	regs := c.List("")
	keys := make([]string, len(regs))
	for i, r := range regs {
		keys[i] = r.Key
	}
	return keys
}

// Hosts returns the upstream hosts of every provider, for the relay
// allow-list
func (c *Catalog) Hosts() []string {
	seen := map[string]bool{}
	var out []string
	for _, reg := range c.List("") {
		for _, h := range reg.Hosts {
			h = strings.ToLower(h)
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Stats summarises the catalogue
type Stats struct {
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
	Sources    map[string]int `json:"sources"`
}

// Stats returns catalogue statistics
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Categories: map[string]int{}, Sources: map[string]int{}}
	for _, reg := range c.entries {
		s.Total++
		s.Categories[reg.Category]++
		s.Sources[reg.Source]++
	}
	return s
}

// Search ranks providers against a free-text query
func (c *Catalog) Search(query string, limit int) []Registration {
	type scored struct {
		reg   Registration
		score float64
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var results []scored
	for _, reg := range c.List("") {
		if s := relevance(query, reg); s > 0 {
			results = append(results, scored{reg, s})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	out := make([]Registration, limit)
	for i := range out {
		out[i] = results[i].reg
	}
	return out
}

func relevance(query string, reg Registration) float64 {
	score := 0.0
	if strings.Contains(reg.Key, query) || strings.Contains(strings.ToLower(reg.Label), query) {
		score += 10
	}
	for _, word := range strings.Fields(strings.ToLower(reg.Description)) {
		if len(word) > 2 && strings.Contains(query, word) {
			score += 5
		}
	}
	if strings.Contains(query, reg.Category) {
		score += 2
	}
	return score
}

// importName derives "useScriptGoogleAnalytics" from "google-analytics"
func importName(key string) string {
	var b strings.Builder
	b.WriteString("useScript")
	for _, part := range strings.FieldsFunc(key, func(r rune) bool { return r == '-' || r == '_' || r == ':' }) {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}
