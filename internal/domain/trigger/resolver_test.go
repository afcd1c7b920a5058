package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

type fakeHost struct {
	mode  script.Mode
	ready chan struct{}
	sw    *fakeSW

	mu        sync.Mutex
	next      int
	listeners map[string]map[int]func()
	observers map[int]func()
	idle      map[int]func()
}

func newFakeHost(mode script.Mode) *fakeHost {
	return &fakeHost{
		mode:      mode,
		ready:     make(chan struct{}),
		listeners: make(map[string]map[int]func()),
		observers: make(map[int]func()),
		idle:      make(map[int]func()),
	}
}

func (h *fakeHost) Mode() script.Mode         { return h.mode }
func (h *fakeHost) AppReady() <-chan struct{} { return h.ready }

func (h *fakeHost) ServiceWorker() ServiceWorker {
	if h.sw == nil {
		return nil
	}
	return h.sw
}

func (h *fakeHost) ObserveElement(selector string, kind ElementKind, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.observers[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

func (h *fakeHost) AddEventListener(target, event string, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := target + "/" + event
	if h.listeners[key] == nil {
		h.listeners[key] = make(map[int]func())
	}
	id := h.next
	h.next++
	h.listeners[key][id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners[key], id)
		h.mu.Unlock()
	}
}

func (h *fakeHost) RequestIdleCallback(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.idle[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.idle, id)
		h.mu.Unlock()
	}
}

func (h *fakeHost) dispatch(target, event string) int {
	h.mu.Lock()
	var fns []func()
	for _, fn := range h.listeners[target+"/"+event] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (h *fakeHost) listenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.listeners {
		n += len(m)
	}
	return n
}

func (h *fakeHost) fireObservers() {
	h.mu.Lock()
	var fns []func()
	for _, fn := range h.observers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *fakeHost) observerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

type fakeSW struct {
	mu         sync.Mutex
	controlled bool
	subs       map[int]func()
	next       int
}

func (s *fakeSW) Controlled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlled
}

func (s *fakeSW) OnControllerChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func())
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *fakeSW) activate() {
	s.mu.Lock()
	s.controlled = true
	var fns []func()
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func await(t *testing.T, f *async.Future[bool]) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NoError(t, err)
	return v
}

func TestImmediate(t *testing.T) {
	for _, mode := range []script.Mode{script.ModeClient, script.ModeServer} {
		host := newFakeHost(mode)
		scope := async.NewScope(context.Background())
		assert.True(t, await(t, Resolve(Immediate(), host, scope)))
	}
}

func TestManualResolvesFalseOnDispose(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	scope := async.NewScope(context.Background())
	f := Resolve(Manual(), host, scope)
	assert.False(t, f.Settled())

	scope.Dispose()
	assert.False(t, await(t, f))
}

func TestDisposedScopeResolvesFalse(t *testing.T) {
	scope := async.NewScope(context.Background())
	scope.Dispose()
	assert.False(t, await(t, Resolve(Immediate(), newFakeHost(script.ModeClient), scope)))
}

func TestInteractionExactlyOnce(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	scope := async.NewScope(context.Background())
	f := Resolve(Interaction("click", "touchstart"), host, scope)
	assert.Equal(t, 2, host.listenerCount())

	assert.Equal(t, 1, host.dispatch(DocumentTarget, "click"))
	assert.True(t, await(t, f))
	assert.Equal(t, 0, host.listenerCount())
	assert.Equal(t, 0, host.dispatch(DocumentTarget, "touchstart"))
}

func TestInteractionCustomTarget(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	scope := async.NewScope(context.Background())
	f := Resolve(Interaction("mouseover").On("#chat"), host, scope)

	host.dispatch(DocumentTarget, "mouseover")
	assert.False(t, f.Settled())
	host.dispatch("#chat", "mouseover")
	assert.True(t, await(t, f))
}

func TestInteractionDisposeDetaches(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	scope := async.NewScope(context.Background())
	f := Resolve(Interaction("click", "scroll"), host, scope)

	scope.Dispose()
	assert.False(t, await(t, f))
	assert.Equal(t, 0, host.listenerCount())
}

func TestElementEventOneShot(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	scope := async.NewScope(context.Background())
	f := Resolve(ElementEvent("#map", Visible), host, scope)
	assert.Equal(t, 1, host.observerCount())

	host.fireObservers()
	assert.True(t, await(t, f))
	assert.Equal(t, 0, host.observerCount())
}

func TestIdleTimeoutWaitsForReady(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	scope := async.NewScope(context.Background())
	f := Resolve(IdleTimeout(10*time.Millisecond), host, scope)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, f.Settled())

	close(host.ready)
	assert.True(t, await(t, f))
}

func TestIdleTimeoutDisposeCancelsTimer(t *testing.T) {
	host := newFakeHost(script.ModeClient)
	close(host.ready)
	scope := async.NewScope(context.Background())
	f := Resolve(IdleTimeout(time.Hour), host, scope)

	time.Sleep(10 * time.Millisecond)
	scope.Dispose()
	assert.False(t, await(t, f))
}

func TestServerLeavesClientTriggersPending(t *testing.T) {
	host := newFakeHost(script.ModeServer)
	close(host.ready)

	specs := []Spec{
		IdleTimeout(0),
		ElementEvent("#x", Hover),
		Interaction("click"),
		ServiceWorkerReady(0),
	}
	for _, spec := range specs {
		scope := async.NewScope(context.Background())
		f := Resolve(spec, host, scope)
		scope.Dispose()
		assert.False(t, f.Settled(), spec.String())
	}
	assert.Equal(t, 0, host.listenerCount())
}

func TestServiceWorkerReady(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		host := newFakeHost(script.ModeClient)
		assert.True(t, await(t, Resolve(ServiceWorkerReady(0), host, async.NewScope(context.Background()))))
	})

	t.Run("already controlled", func(t *testing.T) {
		host := newFakeHost(script.ModeClient)
		host.sw = &fakeSW{controlled: true}
		assert.True(t, await(t, Resolve(ServiceWorkerReady(0), host, async.NewScope(context.Background()))))
	})

	t.Run("controller change", func(t *testing.T) {
		host := newFakeHost(script.ModeClient)
		host.sw = &fakeSW{}
		f := Resolve(ServiceWorkerReady(time.Hour), host, async.NewScope(context.Background()))
		assert.False(t, f.Settled())
		host.sw.activate()
		assert.True(t, await(t, f))
	})

	t.Run("timeout warns", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		host := newFakeHost(script.ModeClient)
		host.sw = &fakeSW{}
		f := NewResolver(zap.New(core)).Resolve(ServiceWorkerReady(20*time.Millisecond), host, async.NewScope(context.Background()))
		assert.True(t, await(t, f))
		assert.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("configured fallback", func(t *testing.T) {
		host := newFakeHost(script.ModeClient)
		host.sw = &fakeSW{}
		spec, err := Parse("service-worker")
		require.NoError(t, err)
		assert.Equal(t, "service-worker", spec.String())

		f := NewResolver(nil).WithServiceWorkerTimeout(20*time.Millisecond).Resolve(spec, host, async.NewScope(context.Background()))
		assert.True(t, await(t, f))
	})
}

func TestAwaitAndSignal(t *testing.T) {
	host := newFakeHost(script.ModeServer)
	scope := async.NewScope(context.Background())

	ext := async.NewFuture[bool]()
	f := Resolve(Await(ext), host, scope)
	ext.Resolve(true)
	assert.True(t, await(t, f))

	ch := make(chan bool, 1)
	g := Resolve(Signal(ch), host, scope)
	ch <- true
	assert.True(t, await(t, g))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
		err  bool
	}{
		{"", KindImmediate, false},
		{"manual", KindManual, false},
		{"ready", KindIdleTimeout, false},
		{"idle:2s", KindIdleTimeout, false},
		{"idle:soon", 0, true},
		{"visible:#map", KindElementEvent, false},
		{"hover", 0, true},
		{"interaction:click,scroll", KindInteraction, false},
		{"service-worker", KindServiceWorkerReady, false},
		{"whenever", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := Parse(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, spec.Kind)
		})
	}

	spec, err := Parse("hover:#chat")
	require.NoError(t, err)
	assert.Equal(t, Hover, spec.Element)
	assert.Equal(t, "#chat", spec.Selector)
}
