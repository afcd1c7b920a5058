package registry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

type instance struct {
	key     string
	trigger string
	presets []string
	status  *script.StatusRef
	load    *async.Future[interface{}]
	force   *async.Future[bool]
	scope   *async.Scope

	// guarded by Registry.mu
	state       script.Status
	subscribers int
	removed     bool
	injected    bool
	src         string
	err         error
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithResolver sets the trigger resolver
func WithResolver(resolver *trigger.Resolver) Option {
	return func(r *Registry) { r.resolver = resolver }
}

// Registry is the keyed store of script instances for one host
type Registry struct {
	host     Host
	logger   *zap.Logger
	resolver *trigger.Resolver
	scope    *async.Scope

	mu        sync.Mutex
	instances map[string]*instance
	observers map[uint64]func(Transition)
	nextObs   uint64
	closed    bool
}

// New creates a registry bound to host. Cancelling ctx closes it.
func New(ctx context.Context, host Host, opts ...Option) *Registry {
	r := &Registry{
		host:      host,
		instances: make(map[string]*instance),
		observers: make(map[uint64]func(Transition)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.resolver == nil {
		r.resolver = trigger.NewResolver(r.logger)
	}
	r.scope = async.NewScope(ctx)
	r.scope.OnDispose(r.Close)
	return r
}

// Mode returns the host mode
func (r *Registry) Mode() script.Mode {
	return r.host.Mode()
}

// Request returns a handle to the instance for req.Descriptor.Key, creating
// the instance and subscribing its trigger on first use. The handle is
// removed when scope is disposed; scope may be nil.
func (r *Registry) Request(scope *async.Scope, req Request) (*Handle, error) {
	if req.Descriptor == nil {
		return nil, fmt.Errorf("request without descriptor")
	}
	if err := req.Descriptor.Validate(); err != nil {
		return nil, err
	}
	key := req.Descriptor.Key

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if inst, ok := r.instances[key]; ok {
		inst.subscribers++
		r.mu.Unlock()
		return newHandle(r, inst, scope), nil
	}

	inst := &instance{
		key:         key,
		trigger:     req.Trigger.String(),
		presets:     pipeline.Names(req.Presets),
		status:      script.NewStatusRef(script.StatusIdle),
		load:        async.NewFuture[interface{}](),
		force:       async.NewFuture[bool](),
		scope:       r.scope.Child(),
		state:       script.StatusIdle,
		subscribers: 1,
	}
	r.instances[key] = inst
	trig := r.resolver.Resolve(req.Trigger, r.host, inst.scope)
	ready := async.Any(inst.scope.Context(), trig, inst.force)
	r.mu.Unlock()

	r.logger.Debug("script requested",
		zap.String("key", key),
		zap.String("trigger", inst.trigger),
		zap.Strings("presets", inst.presets))

	h := newHandle(r, inst, scope)
	if req.BeforeInit != nil {
		if err := req.BeforeInit(); err != nil {
			r.fail(inst, &script.ScriptExecutionError{Key: key, Phase: "beforeInit", Err: err})
			return h, nil
		}
	}
	r.start(inst, req, trig, ready)
	return h, nil
}

// start drives a new instance. On the server an already fired trigger is
// processed inline so the current render pass sees the injected markup.
func (r *Registry) start(inst *instance, req Request, trig, ready *async.Future[bool]) {
	if r.host.Mode() == script.ModeServer {
		if v, err := trig.Result(); err == nil && v {
			r.advance(inst, req, false)
			return
		}
	}
	go func() {
		ok, err := ready.Await(inst.scope.Context())
		if err != nil || !ok {
			return
		}
		r.advance(inst, req, true)
	}()
}

// advance moves a triggered instance through Loading, the presets and
// injection. Without block it never waits on a pending future and leaves
// the remaining steps to a goroutine.
func (r *Registry) advance(inst *instance, req Request, block bool) {
	ctx := inst.scope.Context()
	if !r.transition(inst, script.StatusLoading, nil) {
		return
	}

	tc := &pipeline.Context{
		Script: req.Descriptor.Clone(),
		Mode:   r.host.Mode(),
		Status: inst.status,
		Host:   r.host,
	}
	if hs, ok := r.host.(interface{ Header() http.Header }); ok {
		tc.Headers = hs.Header()
	}
	if rs, ok := r.host.(interface{ Request() *http.Request }); ok {
		tc.Request = rs.Request()
	}

	if err := pipeline.Apply(ctx, req.Presets, tc); err != nil {
		r.fail(inst, err)
		return
	}
	if tc.ClientOnly && tc.Mode == script.ModeServer {
		// Not rendered during this pass
		r.transition(inst, script.StatusIdle, nil)
		return
	}

	if !block && !tc.Ready.Settled() {
		go func() {
			if done := r.inject(inst, tc); done != nil {
				r.finish(inst, req, done)
			}
		}()
		return
	}

	done := r.inject(inst, tc)
	if done == nil {
		return
	}
	if block {
		r.finish(inst, req, done)
		return
	}
	go r.finish(inst, req, done)
}

// inject waits for the ready gate and enters the script into the host
func (r *Registry) inject(inst *instance, tc *pipeline.Context) *async.Future[struct{}] {
	ctx := inst.scope.Context()
	ok, err := tc.Ready.Await(ctx)
	if err != nil {
		return nil
	}
	if !ok {
		r.logger.Debug("script gate closed before injection", zap.String("key", inst.key))
		r.transition(inst, script.StatusIdle, nil)
		return nil
	}

	// Inject does not block, so holding the lock keeps Eject strictly after it
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.removed {
		return nil
	}
	inst.injected = true
	inst.src = tc.Script.Src
	return r.host.Inject(ctx, tc.Script)
}

// finish waits for execution and extracts the runtime API
func (r *Registry) finish(inst *instance, req Request, done *async.Future[struct{}]) {
	ctx := inst.scope.Context()
	if _, err := done.Await(ctx); err != nil {
		if ctx.Err() == nil {
			r.fail(inst, err)
		}
		return
	}

	api, err := callUse(inst.key, req.Use)
	if err != nil {
		r.fail(inst, err)
		return
	}
	if r.transition(inst, script.StatusLoaded, nil) {
		inst.load.Resolve(api)
	}
}

func callUse(key string, use UseFunc) (api interface{}, err error) {
	if use == nil {
		return nil, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = &script.ScriptExecutionError{Key: key, Phase: "use", Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	api, err = use()
	if err != nil {
		return nil, &script.ScriptExecutionError{Key: key, Phase: "use", Err: err}
	}
	return api, nil
}

// transition moves inst to status. It reports false once inst was removed.
func (r *Registry) transition(inst *instance, to script.Status, cause error) bool {
	r.mu.Lock()
	if inst.removed {
		r.mu.Unlock()
		return false
	}
	from := inst.state
	inst.state = to
	if cause != nil {
		inst.err = cause
	}
	observers := r.snapshotObservers()
	r.mu.Unlock()

	inst.status.Set(to)
	if from == to {
		return true
	}

	t := Transition{Key: inst.key, From: from, To: to, Err: cause, At: time.Now()}
	if cause != nil {
		r.logger.Warn("script failed", zap.String("key", inst.key), zap.Error(cause))
	} else {
		r.logger.Debug("script transition",
			zap.String("key", inst.key),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	for _, fn := range observers {
		fn(t)
	}
	return true
}

func (r *Registry) fail(inst *instance, err error) {
	if r.transition(inst, script.StatusError, err) {
		inst.load.Reject(err)
	}
}

// release drops one subscriber and evicts the instance at zero
func (r *Registry) release(inst *instance) {
	r.mu.Lock()
	if inst.removed {
		r.mu.Unlock()
		return
	}
	inst.subscribers--
	if inst.subscribers > 0 {
		r.mu.Unlock()
		return
	}
	r.evictLocked(inst)
	from := inst.state
	inst.state = script.StatusIdle
	observers := r.snapshotObservers()
	r.mu.Unlock()

	r.teardown(inst)
	t := Transition{Key: inst.key, From: from, To: script.StatusIdle, At: time.Now(), Removed: true}
	for _, fn := range observers {
		fn(t)
	}
	r.logger.Debug("script removed", zap.String("key", inst.key))
}

func (r *Registry) evictLocked(inst *instance) {
	inst.removed = true
	if r.instances[inst.key] == inst {
		delete(r.instances, inst.key)
	}
}

func (r *Registry) teardown(inst *instance) {
	inst.scope.Dispose()
	r.mu.Lock()
	injected := inst.injected
	r.mu.Unlock()
	if injected {
		r.host.Eject(inst.key)
	}
	inst.load.Reject(script.ErrScriptRemoved)
	inst.status.Set(script.StatusIdle)
}

func (r *Registry) snapshotObservers() []func(Transition) {
	fns := make([]func(Transition), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	return fns
}

// Subscribe registers fn for every status transition
func (r *Registry) Subscribe(fn func(Transition)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextObs++
	oid := r.nextObs
	r.observers[oid] = fn
	return func() {
		r.mu.Lock()
		delete(r.observers, oid)
		r.mu.Unlock()
	}
}

// Has reports whether an instance exists for key
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[key]
	return ok
}

// Keys returns the keys of live instances, sorted
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot describes every live instance, sorted by key
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, infoLocked(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func infoLocked(inst *instance) Info {
	info := Info{
		Key:         inst.key,
		Status:      inst.state,
		Subscribers: inst.subscribers,
		Trigger:     inst.trigger,
		Presets:     inst.presets,
		Src:         inst.src,
	}
	if inst.err != nil {
		info.Error = inst.err.Error()
	}
	return info
}

// Close tears down every instance. Later requests fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	instances := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		r.evictLocked(inst)
		instances = append(instances, inst)
	}
	r.mu.Unlock()

	for _, inst := range instances {
		r.teardown(inst)
	}
	r.scope.Dispose()
}
