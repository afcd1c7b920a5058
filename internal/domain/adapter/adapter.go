package adapter

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/registry"
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Options are caller-supplied provider options
type Options map[string]interface{}

// String returns the string option name, or ""
func (o Options) String(name string) string {
	if v, ok := o[name].(string); ok {
		return v
	}
	return ""
}

// Runtime exposes page globals to hooks
type Runtime interface {
	Get(path string) (interface{}, bool)
	Has(path string) bool
	Call(path string, args ...interface{}) (interface{}, error)
	Eval(ctx context.Context, src string) error
}

// Env is the explicit execution scope of a UseScript call
type Env struct {
	Registry *registry.Registry
	// Runtime is nil on the server
	Runtime Runtime
	Dev     bool
	Logger  *zap.Logger
}

// Setup is what a factory derives from options
type Setup struct {
	Descriptor script.Descriptor
	Trigger    trigger.Spec
	Presets    []pipeline.Preset
}

// Factory builds the setup for caller options
type Factory func(opts Options) (Setup, error)

// Override adjusts the setup of a single call
type Override func(*Setup)

// WithTrigger replaces the provider's default trigger
func WithTrigger(spec trigger.Spec) Override {
	return func(s *Setup) { s.Trigger = spec }
}

// WithPresets appends presets after the provider's own
func WithPresets(presets ...pipeline.Preset) Override {
	return func(s *Setup) { s.Presets = append(s.Presets, presets...) }
}

// UseScript requests a provider script and returns its typed handle
type UseScript[T any] func(scope *async.Scope, env Env, opts Options, overrides ...Override) (*Handle[T], error)

// Definition is a provider bound to the registry contract
type Definition[T any] struct {
	key        string
	factory    Factory
	rules      map[string]interface{}
	use        func(Runtime) (T, error)
	beforeInit func(ctx context.Context, rt Runtime, opts Options) error
	validate   *validator.Validate
}

// Option configures a Definition
type Option[T any] func(*Definition[T])

// WithSchema attaches validator rules checked in development
func WithSchema[T any](rules map[string]interface{}) Option[T] {
	return func(d *Definition[T]) { d.rules = rules }
}

// WithUse sets the extractor for the provider's runtime API
func WithUse[T any](fn func(Runtime) (T, error)) Option[T] {
	return func(d *Definition[T]) { d.use = fn }
}

// WithBeforeInit sets a hook run once when the instance is created, such
// as installing a command queue stub
func WithBeforeInit[T any](fn func(ctx context.Context, rt Runtime, opts Options) error) Option[T] {
	return func(d *Definition[T]) { d.beforeInit = fn }
}

// Define binds providerKey and factory into a Definition
func Define[T any](providerKey string, factory Factory, opts ...Option[T]) *Definition[T] {
	d := &Definition[T]{
		key:      providerKey,
		factory:  factory,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProviderKey returns the provider key
func (d *Definition[T]) ProviderKey() string { return d.key }

// Key derives the script key. An explicit "key" option namespaces a second
// instance of the same provider.
func (d *Definition[T]) Key(opts Options) string {
	if k := opts.String("key"); k != "" {
		return d.key + ":" + k
	}
	return d.key
}

// UseScript returns d.Use as a UseScript function
func (d *Definition[T]) UseScript() UseScript[T] {
	return d.Use
}

// Use validates options in development, builds the descriptor and requests
// it from the registry
func (d *Definition[T]) Use(scope *async.Scope, env Env, opts Options, overrides ...Override) (*Handle[T], error) {
	h, err := d.request(scope, env, opts, overrides)
	if err != nil {
		return nil, err
	}
	return &Handle[T]{Handle: h}, nil
}

// UseAny is Use without the typed handle
func (d *Definition[T]) UseAny(scope *async.Scope, env Env, opts Options, overrides ...Override) (*registry.Handle, error) {
	return d.request(scope, env, opts, overrides)
}

func (d *Definition[T]) request(scope *async.Scope, env Env, opts Options, overrides []Override) (*registry.Handle, error) {
	if env.Registry == nil {
		return nil, fmt.Errorf("%s: no registry in env", d.key)
	}
	if opts == nil {
		opts = Options{}
	}
	// Rejected options never create an instance
	if env.Dev {
		if res := d.Validate(opts); !res.OK {
			err := res.Err(d.key)
			if env.Logger != nil {
				env.Logger.Warn("invalid provider options", zap.String("provider", d.key), zap.Error(err))
			}
			return nil, err
		}
	}

	setup, err := d.factory(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.key, err)
	}
	if t := opts.String("trigger"); t != "" {
		spec, err := trigger.Parse(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		setup.Trigger = spec
	}
	for _, o := range overrides {
		o(&setup)
	}

	desc := setup.Descriptor.Clone()
	desc.Key = d.Key(opts)

	req := registry.Request{
		Descriptor: desc,
		Trigger:    setup.Trigger,
		Presets:    setup.Presets,
		Use:        d.useFunc(env),
	}
	if d.beforeInit != nil && env.Runtime != nil {
		ctx := context.Background()
		if scope != nil {
			ctx = scope.Context()
		}
		req.BeforeInit = func() error { return d.beforeInit(ctx, env.Runtime, opts) }
	}
	return env.Registry.Request(scope, req)
}

func (d *Definition[T]) useFunc(env Env) registry.UseFunc {
	if d.use == nil {
		return nil
	}
	return func() (interface{}, error) {
		if env.Runtime == nil {
			return nil, fmt.Errorf("%s: no runtime to extract the api from", d.key)
		}
		return d.use(env.Runtime)
	}
}

// Handle is a registry handle with a typed Load
type Handle[T any] struct {
	*registry.Handle
}

// Load waits for the provider API
func (h *Handle[T]) Load(ctx context.Context) (T, error) {
	var zero T
	v, err := h.Handle.Load(ctx)
	if err != nil || v == nil {
		return zero, err
	}
	api, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: api has type %T", h.Key(), v)
	}
	return api, nil
}
