package providers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/adapter"
	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
)

// Manifest is a file of provider registrations
type Manifest struct {
	Providers []ManifestEntry `yaml:"providers" toml:"providers"`
}

// ManifestEntry declares a provider by importPath. Placeholders such as
// {id} in ImportPath and Attributes are filled from caller options.
type ManifestEntry struct {
	Key         string            `yaml:"key" toml:"key"`
	Category    string            `yaml:"category" toml:"category"`
	Label       string            `yaml:"label" toml:"label"`
	Description string            `yaml:"description" toml:"description"`
	ImportName  string            `yaml:"importName" toml:"importName"`
	ImportPath  string            `yaml:"importPath" toml:"importPath"`
	Hosts       []string          `yaml:"hosts" toml:"hosts"`
	Trigger     string            `yaml:"trigger" toml:"trigger"`
	Presets     []string          `yaml:"presets" toml:"presets"`
	Attributes  map[string]string `yaml:"attributes" toml:"attributes"`
	Schema      map[string]string `yaml:"schema" toml:"schema"`
	// Global is the runtime path use() returns once the script has run
	Global string `yaml:"global" toml:"global"`
	// Stub runs in the page before the script is requested
	Stub string `yaml:"stub" toml:"stub"`
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// ManifestExtensions are the file types the loader reads
var ManifestExtensions = []string{".yaml", ".yml", ".toml"}

// DecodeManifest parses data according to the extension of path
func DecodeManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest type %q", filepath.Ext(path))
	}
	return &m, nil
}

// Registration builds a catalogue registration with a generic adapter
func (e ManifestEntry) Registration(deps pipeline.Deps) (Registration, error) {
	reg := Registration{
		Key:         e.Key,
		Category:    e.Category,
		Label:       e.Label,
		Description: e.Description,
		ImportName:  e.ImportName,
		ImportPath:  e.ImportPath,
		Hosts:       e.Hosts,
	}
	if err := reg.Validate(); err != nil {
		return Registration{}, err
	}
	if len(reg.Hosts) == 0 {
		if u, err := url.Parse(e.ImportPath); err == nil && u.Hostname() != "" {
			reg.Hosts = []string{u.Hostname()}
		}
	}

	spec := trigger.OnReady()
	if e.Trigger != "" {
		var err error
		if spec, err = trigger.Parse(e.Trigger); err != nil {
			return Registration{}, fmt.Errorf("%s: %w", e.Key, err)
		}
	}
	presets := make([]pipeline.Preset, 0, len(e.Presets))
	for _, name := range e.Presets {
		p, err := pipeline.ByName(name, deps)
		if err != nil {
			return Registration{}, fmt.Errorf("%s: %w", e.Key, err)
		}
		presets = append(presets, p)
	}

	names := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []adapter.Option[interface{}]{}
	if len(e.Schema) > 0 {
		rules := make(map[string]interface{}, len(e.Schema))
		for k, v := range e.Schema {
			rules[k] = v
		}
		opts = append(opts, adapter.WithSchema[interface{}](rules))
	}
	if e.Global != "" {
		global := e.Global
		opts = append(opts, adapter.WithUse(func(rt adapter.Runtime) (interface{}, error) {
			v, ok := rt.Get(global)
			if !ok {
				return nil, fmt.Errorf("%s is not defined", global)
			}
			return v, nil
		}))
	}
	if e.Stub != "" {
		stub := e.Stub
		opts = append(opts, adapter.WithBeforeInit[interface{}](func(ctx context.Context, rt adapter.Runtime, o adapter.Options) error {
			return rt.Eval(ctx, expand(stub, o, false))
		}))
	}

	importPath := e.ImportPath
	attrs := e.Attributes
	reg.Factory = adapter.Define[interface{}](e.Key, func(o adapter.Options) (adapter.Setup, error) {
		desc := script.Descriptor{Src: expand(importPath, o, true)}
		for _, name := range names {
			desc.Attributes.Set(name, expand(attrs[name], o, false))
		}
		return adapter.Setup{Descriptor: desc, Trigger: spec, Presets: presets}, nil
	}, opts...)
	return reg, nil
}

// expand fills {name} placeholders from options
func expand(s string, opts adapter.Options, escape bool) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		v, ok := opts[m[1:len(m)-1]]
		if !ok || v == nil {
			return ""
		}
		if escape {
			return url.QueryEscape(fmt.Sprint(v))
		}
		return fmt.Sprint(v)
	})
}

// LoadResult counts manifest registrations
type LoadResult struct {
	Loaded int      `json:"loaded"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Loader registers providers from a manifest directory
type Loader struct {
	catalog *Catalog
	dir     string
	deps    pipeline.Deps
	logger  *zap.Logger
}

// NewLoader creates a loader for dir
func NewLoader(catalog *Catalog, dir string, deps pipeline.Deps, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{catalog: catalog, dir: dir, deps: deps, logger: logger.Named("manifests")}
}

// Load walks the directory and registers every manifest entry. A missing
// directory loads nothing.
func (l *Loader) Load(ctx context.Context) (LoadResult, error) {
	var (
		mu  sync.Mutex
		res LoadResult
	)
	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("Manifest directory not found", zap.String("dir", l.dir))
		return res, nil
	}

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() || !isManifest(p) {
			return nil
		}

		loaded, errs := l.LoadFile(p)
		mu.Lock()
		res.Loaded += loaded
		res.Failed += len(errs)
		for _, e := range errs {
			res.Errors = append(res.Errors, e.Error())
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return res, err
	}
	sort.Strings(res.Errors)

	l.logger.Info("Manifests loaded",
		zap.String("dir", l.dir),
		zap.Int("loaded", res.Loaded),
		zap.Int("failed", res.Failed))
	return res, nil
}

// LoadFile replaces the registrations of one manifest
func (l *Loader) LoadFile(path string) (int, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, []error{err}
	}
	m, err := DecodeManifest(path, data)
	if err != nil {
		l.logger.Warn("Failed to parse manifest", zap.String("path", path), zap.Error(err))
		return 0, []error{err}
	}

	l.catalog.RemoveSource(path)
	var (
		loaded int
		errs   []error
	)
	for _, entry := range m.Providers {
		reg, err := entry.Registration(l.deps)
		if err == nil {
			reg.Source = path
			err = l.catalog.Register(reg)
		}
		if err != nil {
			l.logger.Warn("Failed to register provider", zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		l.logger.Debug("Registered provider", zap.String("key", reg.Key), zap.String("path", path))
		loaded++
	}
	return loaded, errs
}

// Watch reloads manifests as they change until ctx is done
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("Manifest watcher error", zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			l.handle(w, ev)
		}
	}
}

func (l *Loader) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.Add(ev.Name)
			return
		}
	}
	if !isManifest(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		n := l.catalog.RemoveSource(ev.Name)
		l.logger.Info("Manifest removed", zap.String("path", ev.Name), zap.Int("providers", n))
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		loaded, errs := l.LoadFile(ev.Name)
		l.logger.Info("Manifest reloaded",
			zap.String("path", ev.Name),
			zap.Int("loaded", loaded),
			zap.Int("failed", len(errs)))
	}
}

func isManifest(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ManifestExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
