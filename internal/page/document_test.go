package page

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleDelay = 0
	return cfg
}

func newTestDocument(t *testing.T, scripts map[string]string) *Document {
	t.Helper()
	fetcher := FetcherFunc(func(ctx context.Context, src string) ([]byte, error) {
		body, ok := scripts[src]
		if !ok {
			return nil, errors.New("404")
		}
		return []byte(body), nil
	})
	doc, err := New(testConfig(), fetcher, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = doc.Close() })
	return doc
}

func awaitDone(t *testing.T, f *async.Future[struct{}]) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.Await(ctx)
	return err
}

func TestInjectExecutesSource(t *testing.T) {
	doc := newTestDocument(t, map[string]string{
		"https://cdn.test/lib.js": "window.lib = { version: '1.2', add: function(a, b) { return a + b } };",
	})

	require.NoError(t, awaitDone(t, doc.Inject(context.Background(), &script.Descriptor{Key: "lib", Src: "https://cdn.test/lib.js"})))

	g := doc.Globals()
	v, ok := g.Get("lib.version")
	require.True(t, ok)
	assert.Equal(t, "1.2", v)

	sum, err := g.Call("lib.add", 2, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, sum)

	els := doc.DOM().Query("[data-script-key=lib]")
	require.Len(t, els, 1)
	assert.Equal(t, "https://cdn.test/lib.js", els[0].GetAttribute("src"))
}

func TestInjectInlineBody(t *testing.T) {
	doc := newTestDocument(t, nil)
	require.NoError(t, awaitDone(t, doc.Inject(context.Background(), &script.Descriptor{Key: "x", Body: "var answer = 42;"})))
	assert.True(t, doc.Globals().Has("answer"))
	assert.False(t, doc.Globals().Has("question"))
}

func TestInjectFailures(t *testing.T) {
	doc := newTestDocument(t, map[string]string{
		"https://cdn.test/broken.js": "throw new Error('boom')",
		"https://cdn.test/ok.js":     "var ok = true",
	})

	tests := []struct {
		name  string
		desc  *script.Descriptor
		phase string
	}{
		{"fetch", &script.Descriptor{Key: "a", Src: "https://cdn.test/missing.js"}, "fetch"},
		{"execute", &script.Descriptor{Key: "b", Src: "https://cdn.test/broken.js"}, "execute"},
		{"integrity", &script.Descriptor{Key: "c", Src: "https://cdn.test/ok.js", Integrity: "sha256-AAAA"}, "integrity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := awaitDone(t, doc.Inject(context.Background(), tt.desc))
			var execErr *script.ScriptExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, tt.phase, execErr.Phase)
		})
	}
}

func TestLoadEventDispatched(t *testing.T) {
	doc := newTestDocument(t, nil)
	fired := make(chan struct{}, 1)
	doc.AddEventListener(ScriptTarget("k"), "load", func() { fired <- struct{}{} })

	require.NoError(t, awaitDone(t, doc.Inject(context.Background(), &script.Descriptor{Key: "k", Body: "1"})))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("load not dispatched")
	}
}

func TestEject(t *testing.T) {
	doc := newTestDocument(t, nil)
	require.NoError(t, awaitDone(t, doc.Inject(context.Background(), &script.Descriptor{Key: "k", Body: "1"})))
	assert.Len(t, doc.DOM().Query("script"), 1)

	doc.Eject("k")
	assert.Empty(t, doc.DOM().Query("script"))
	assert.Empty(t, doc.Scripts())
}

func TestDispatchEventRunsScriptListeners(t *testing.T) {
	doc := newTestDocument(t, nil)
	_, err := doc.Run(context.Background(), "listen", "var clicks = 0; document.addEventListener('click', function(e) { clicks++ });")
	require.NoError(t, err)

	assert.Equal(t, 1, doc.DispatchEvent("document", "click"))
	v, _ := doc.Globals().Get("clicks")
	assert.EqualValues(t, 1, v)
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	doc, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer doc.Close()

	_, err = doc.Run(context.Background(), "loop", "for(;;){}")
	assert.Error(t, err)

	_, err = doc.Run(context.Background(), "after", "1 + 1")
	assert.NoError(t, err)
}

func TestSandboxGlobals(t *testing.T) {
	doc := newTestDocument(t, nil)
	for _, src := range []string{"require('fs')", "process.exit(1)"} {
		_, err := doc.Run(context.Background(), "blocked", src)
		assert.Error(t, err, src)
	}

	_, err := doc.Run(context.Background(), "console", "console.log('hello', 1)")
	require.NoError(t, err)
	logs := doc.Console()
	require.Len(t, logs, 1)
	assert.Equal(t, "hello 1", logs[0].Message)
}

func TestSetTimeoutFires(t *testing.T) {
	doc := newTestDocument(t, nil)
	_, err := doc.Run(context.Background(), "timer", "var fired = false; setTimeout(function() { fired = true }, 5);")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		v, _ := doc.Globals().Get("fired")
		return v == true
	}, time.Second, 5*time.Millisecond)
}

func TestObserveElement(t *testing.T) {
	doc := newTestDocument(t, nil)
	doc.DOM().Append(doc.DOM().Body(), NewElement("div", script.NewAttributes(script.Attribute{Name: "id", Value: "map"})))

	fired := 0
	stop := doc.ObserveElement("#map", trigger.Visible, func() { fired++ })
	defer stop()
	assert.Equal(t, 1, doc.ObserverCount())

	assert.Equal(t, 0, doc.Hover("#map"))
	assert.Equal(t, 1, doc.Reveal("#map"))
	assert.Equal(t, 0, doc.Reveal("#map"))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, doc.ObserverCount())

	doc.ObserveElement("#map", trigger.Visible, func() { fired++ })
	assert.Equal(t, 2, fired)
}

func TestIdleCallbacks(t *testing.T) {
	doc := newTestDocument(t, nil)
	ran := 0
	doc.RequestIdleCallback(func() { ran++ })
	cancel := doc.RequestIdleCallback(func() { ran += 10 })
	cancel()

	assert.Equal(t, 1, doc.RunIdle())
	assert.Equal(t, 1, ran)
}

func TestAutomaticIdle(t *testing.T) {
	cfg := testConfig()
	cfg.IdleDelay = 5 * time.Millisecond
	doc, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer doc.Close()

	done := make(chan struct{})
	doc.RequestIdleCallback(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle callback not run")
	}
}

func TestServiceWorkerContainer(t *testing.T) {
	doc := newTestDocument(t, nil)
	sw := doc.ServiceWorkerContainer()
	require.NotNil(t, sw)
	assert.False(t, sw.Controlled())

	changed := false
	sw.OnControllerChange(func() { changed = true })
	sw.Activate("/sw.js")
	assert.True(t, changed)
	assert.True(t, doc.ServiceWorker().Controlled())

	cfg := testConfig()
	cfg.ServiceWorker = false
	bare, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, bare.ServiceWorker())
}

func TestCloseRejectsInjection(t *testing.T) {
	doc, err := New(testConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, doc.Close())

	err = awaitDone(t, doc.Inject(context.Background(), &script.Descriptor{Key: "k", Body: "1"}))
	assert.ErrorIs(t, err, ErrClosed)
}
