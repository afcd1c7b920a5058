package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

type idleHost struct {
	mu   sync.Mutex
	mode script.Mode
	fns  []func()
}

func (h *idleHost) Mode() script.Mode                                         { return h.mode }
func (h *idleHost) AppReady() <-chan struct{}                                 { return nil }
func (h *idleHost) ObserveElement(string, trigger.ElementKind, func()) func() { return func() {} }
func (h *idleHost) AddEventListener(string, string, func()) func()            { return func() {} }
func (h *idleHost) ServiceWorker() trigger.ServiceWorker                      { return nil }
func (h *idleHost) RequestIdleCallback(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
	return func() {}
}

func (h *idleHost) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

func (h *idleHost) runIdle() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fetcherFunc func(ctx context.Context, src string) ([]byte, error)

func (f fetcherFunc) FetchAsset(ctx context.Context, src string) ([]byte, error) { return f(ctx, src) }

func newContext(src string) *Context {
	return &Context{
		Script: &script.Descriptor{Key: "k", Src: src},
		Status: script.NewStatusRef(script.StatusLoading),
		Host:   &idleHost{},
	}
}

func TestProxyRewritesSrc(t *testing.T) {
	tc := newContext("https://x/y.js?v=1")
	tc.Script.Integrity = "sha384-abc"
	require.NoError(t, Apply(context.Background(), []Preset{Proxy("/relay/")}, tc))

	u, err := url.Parse(tc.Script.Src)
	require.NoError(t, err)
	assert.Equal(t, "/relay/proxy", u.Path)
	assert.Equal(t, "https://x/y.js?v=1", u.Query().Get("url"))
	assert.Equal(t, "sha384-abc", u.Query().Get("integrity"))
	assert.Equal(t, "sha384-abc", tc.Script.Integrity)
}

func TestProxyThenIdleDefer(t *testing.T) {
	host := &idleHost{}
	tc := newContext("https://x/y.js")
	tc.Host = host
	ctx := context.Background()

	require.NoError(t, Apply(ctx, []Preset{Proxy("/relay"), IdleDefer()}, tc))

	assert.Equal(t, "/relay/proxy?url=https%3A%2F%2Fx%2Fy.js", tc.Script.Src)
	assert.True(t, tc.ClientOnly)

	assert.Eventually(t, func() bool { return host.pending() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, tc.Ready.Settled())

	host.runIdle()
	v, err := tc.Ready.Await(ctx)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestIdleDeferWaitsForPriorReady(t *testing.T) {
	host := &idleHost{}
	tc := newContext("https://x/y.js")
	tc.Host = host
	gate := async.NewFuture[bool]()
	tc.Ready = gate

	require.NoError(t, Apply(context.Background(), []Preset{IdleDefer()}, tc))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, host.pending())

	gate.Resolve(true)
	assert.Eventually(t, func() bool { return host.pending() == 1 }, time.Second, 5*time.Millisecond)
}

func TestInline(t *testing.T) {
	body := []byte("window.x = 1")
	sri, err := script.Integrity("sha256", body)
	require.NoError(t, err)

	fetcher := fetcherFunc(func(ctx context.Context, src string) ([]byte, error) { return body, nil })

	tests := []struct {
		name   string
		dev    bool
		header string
	}{
		{"production", false, "Content-Security-Policy"},
		{"development", true, "Content-Security-Policy-Report-Only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newContext("https://x/y.js")
			tc.Script.Integrity = sri
			tc.Script.Attributes.Set("integrity", sri)
			tc.Script.Attributes.Set("crossorigin", "anonymous")

			require.NoError(t, Apply(context.Background(), []Preset{Inline(fetcher, tt.dev)}, tc))

			assert.Empty(t, tc.Script.Src)
			assert.Empty(t, tc.Script.Integrity)
			assert.Equal(t, "window.x = 1", tc.Script.Body)
			_, ok := tc.Script.Attributes.Get("integrity")
			assert.False(t, ok)
			assert.Equal(t, "script-src 'self' '"+sri+"'", tc.Headers.Get(tt.header))
		})
	}
}

func TestInlineIntegrityMismatch(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, src string) ([]byte, error) { return []byte("evil()"), nil })
	tc := newContext("https://x/y.js")
	tc.Script.Integrity = "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="

	err := Apply(context.Background(), []Preset{Inline(fetcher, false)}, tc)
	var violation *script.SecurityPolicyViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "https://x/y.js", tc.Script.Src)
	assert.Equal(t, script.StatusError, tc.Status.Get())
}

func TestFetchFailureStopsPipeline(t *testing.T) {
	boom := errors.New("upstream down")
	fetcher := fetcherFunc(func(ctx context.Context, src string) ([]byte, error) { return nil, boom })
	tc := newContext("https://x/y.js")

	err := Apply(context.Background(), []Preset{Inline(fetcher, false), Proxy("/relay")}, tc)
	var fetchErr *script.RelayFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, script.StatusError, tc.Status.Get())
	assert.Equal(t, "https://x/y.js", tc.Script.Src)
	assert.Empty(t, tc.Headers)
}

func TestManualGate(t *testing.T) {
	ctx := context.Background()

	ch := make(chan bool, 1)
	tc := newContext("https://x/y.js")
	require.NoError(t, Apply(ctx, []Preset{ManualGate(ch)}, tc))
	assert.False(t, tc.Ready.Settled())
	ch <- true
	v, err := tc.Ready.Await(ctx)
	require.NoError(t, err)
	assert.True(t, v)

	f := async.NewFuture[bool]()
	tc = newContext("https://x/y.js")
	require.NoError(t, Apply(ctx, []Preset{ManualGateFuture(f)}, tc))
	assert.Same(t, f, tc.Ready)
}

func TestByName(t *testing.T) {
	deps := Deps{RelayPrefix: "/relay", Fetcher: fetcherFunc(nil)}
	for _, name := range []string{NameProxy, NameInline, NameIdleDefer} {
		p, err := ByName(name, deps)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}

	_, err := ByName(NameManualGate, deps)
	assert.Error(t, err)
	_, err = ByName("minify", deps)
	assert.Error(t, err)
	_, err = ByName(NameInline, Deps{})
	assert.Error(t, err)

	assert.Equal(t, []string{"proxy", "idle-defer"}, Names([]Preset{Proxy(""), IdleDefer()}))
}

func TestApplyDefaults(t *testing.T) {
	tc := &Context{Script: &script.Descriptor{Key: "k", Body: "1"}}
	require.NoError(t, Apply(context.Background(), nil, tc))
	assert.True(t, tc.Ready.Settled())
	assert.Equal(t, http.Header{}, tc.Headers)
}
