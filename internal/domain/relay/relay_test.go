package relay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
)

var jpeg = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0}, 64)...)

type fakeUpstream struct {
	mu    sync.Mutex
	calls []string
	fn    func(rawURL string) (*httpclient.Response, error)
	ctxFn func(ctx context.Context, rawURL string) (*httpclient.Response, error)
}

func (f *fakeUpstream) Get(ctx context.Context, rawURL string, _ http.Header) (*httpclient.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	if f.ctxFn != nil {
		return f.ctxFn(ctx, rawURL)
	}
	return f.fn(rawURL)
}

func (f *fakeUpstream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func respond(status int, contentType string, body []byte) func(string) (*httpclient.Response, error) {
	return func(rawURL string) (*httpclient.Response, error) {
		h := http.Header{}
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		return &httpclient.Response{URL: rawURL, StatusCode: status, Header: h, Body: body}, nil
	}
}

func setup(t *testing.T, up *fakeUpstream, routes map[string]string) (*Service, *gin.Engine, *monitoring.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics()
	svc, err := NewService(up, Options{
		Prefix:   "/relay",
		Policies: DefaultPolicies([]string{"www.googletagmanager.com", "*.stripe.com"}),
		Routes:   routes,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	r := gin.New()
	svc.Register(r)
	return svc, r, metrics
}

func get(r http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func relayURL(endpoint, param, target string) string {
	return "/relay/" + endpoint + "?" + param + "=" + url.QueryEscape(target)
}

func TestEmbedImageAllowList(t *testing.T) {
	up := &fakeUpstream{fn: respond(http.StatusOK, "image/jpeg", jpeg)}
	_, r, metrics := setup(t, up, nil)

	w := get(r, relayURL("embed-image", "url", "https://evil.example.com/x.jpg"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Domain not allowed"}`, w.Body.String())
	assert.Zero(t, up.count())
	assert.Equal(t, int64(1), metrics.Snapshot().PolicyViolations)

	w = get(r, relayURL("embed-image", "url", "https://scontent.cdninstagram.com/x.jpg"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, jpeg, w.Body.Bytes())
}

func TestRedirectRejected(t *testing.T) {
	up := &fakeUpstream{fn: func(rawURL string) (*httpclient.Response, error) {
		h := http.Header{}
		h.Set("Location", "http://169.254.169.254/latest/meta-data")
		return &httpclient.Response{URL: rawURL, StatusCode: http.StatusFound, Header: h}, nil
	}}
	_, r, _ := setup(t, up, nil)

	w := get(r, relayURL("embed-image", "url", "https://pbs.twimg.com/media/a.jpg"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Redirect not allowed"}`, w.Body.String())
	assert.Equal(t, 1, up.count())
}

func TestRequestErrors(t *testing.T) {
	up := &fakeUpstream{fn: respond(http.StatusOK, "application/javascript", []byte("x()"))}
	_, r, _ := setup(t, up, nil)

	tests := []struct {
		name   string
		target string
		status int
		msg    string
	}{
		{"missing url", "/relay/proxy", http.StatusBadRequest, "Missing url parameter"},
		{"bad scheme", relayURL("proxy", "url", "javascript:alert(1)"), http.StatusBadRequest, "Malformed url"},
		{"private ip", relayURL("proxy", "url", "http://127.0.0.1/a.js"), http.StatusForbidden, "Domain not allowed"},
		{"unlisted", relayURL("inline", "src", "https://cdn.evil.com/a.js"), http.StatusForbidden, "Domain not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.target, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.msg+`"}`, w.Body.String())
		})
	}
	assert.Zero(t, up.count())
}

func TestUpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(string) (*httpclient.Response, error)
		status int
	}{
		{"upstream 404", respond(http.StatusNotFound, "text/plain", nil), http.StatusBadGateway},
		{"wrong type", respond(http.StatusOK, "text/html", []byte("<html></html>")), http.StatusForbidden},
		{"timeout", func(string) (*httpclient.Response, error) {
			return nil, context.DeadlineExceeded
		}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r, _ := setup(t, &fakeUpstream{fn: tt.fn}, nil)
			w := get(r, relayURL("proxy", "url", "https://www.googletagmanager.com/gtag/js"), nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestProxyIntegrity(t *testing.T) {
	body := []byte("window.gtag = function () {}")
	sri, err := script.Integrity("sha384", body)
	require.NoError(t, err)

	up := &fakeUpstream{fn: respond(http.StatusOK, "text/javascript", body)}
	_, r, _ := setup(t, up, nil)

	target := "https://www.googletagmanager.com/gtag/js?id=G-1"
	w := get(r, relayURL("proxy", "url", target)+"&integrity="+url.QueryEscape(sri), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=86400", w.Header().Get("Cache-Control"))
	assert.Equal(t, "text/javascript", w.Header().Get("Content-Type"))

	w = get(r, relayURL("proxy", "url", target)+"&integrity="+url.QueryEscape("sha384-AAAA"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Integrity mismatch"}`, w.Body.String())
}

func TestInlineEncoding(t *testing.T) {
	body := []byte(strings.Repeat("window.dataLayer = window.dataLayer || [];\n", 50))
	up := &fakeUpstream{fn: respond(http.StatusOK, "application/javascript", body)}
	_, r, _ := setup(t, up, nil)
	target := relayURL("inline", "src", "https://js.stripe.com/v3/")

	w := get(r, target, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
	assert.Equal(t, body, w.Body.Bytes())

	w = get(r, target, http.Header{"Accept-Encoding": {"gzip, deflate"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(zr)
	require.NoError(t, err)
	assert.Equal(t, body, out.Bytes())

	w = get(r, target, http.Header{"Accept-Encoding": {"gzip;q=0.5, zstd"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "zstd", w.Header().Get("Content-Encoding"))
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	decoded, err := dec.DecodeAll(w.Body.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, body, decoded)
}

func TestNegotiateEncoding(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"identity":          "",
		"gzip":              "gzip",
		"br, gzip":          "gzip",
		"zstd, gzip":        "zstd",
		"zstd;q=0, gzip":    "gzip",
		"*":                 "gzip",
		"gzip;q=0, deflate": "",
	}
	for accept, want := range tests {
		assert.Equal(t, want, negotiateEncoding(accept), accept)
	}
}

func TestConcurrentFetchesShareUpstream(t *testing.T) {
	release := make(chan struct{})
	var inflight atomic.Int32
	up := &fakeUpstream{fn: func(rawURL string) (*httpclient.Response, error) {
		inflight.Add(1)
		<-release
		return respond(http.StatusOK, "application/javascript", []byte("x()"))(rawURL)
	}}
	svc, _, _ := setup(t, up, nil)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Fetch(context.Background(), EndpointInline, "https://js.stripe.com/v3/")
		}(i)
	}
	require.Eventually(t, func() bool { return inflight.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, up.count())
}

func TestAbandonedCallerKeepsSharedFetch(t *testing.T) {
	release := make(chan struct{})
	up := &fakeUpstream{ctxFn: func(ctx context.Context, rawURL string) (*httpclient.Response, error) {
		select {
		case <-release:
			return respond(http.StatusOK, "application/javascript", []byte("x()"))(rawURL)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	svc, _, _ := setup(t, up, nil)
	const src = "https://js.stripe.com/v3/"

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Fetch(first, EndpointInline, src)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return up.count() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		asset *Asset
		err   error
	}
	second := make(chan result, 1)
	go func() {
		asset, err := svc.Fetch(context.Background(), EndpointInline, src)
		second <- result{asset, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, []byte("x()"), res.asset.Body)
	assert.Equal(t, 1, up.count())
}

func TestEmbed(t *testing.T) {
	page := []byte(`<!doctype html><html><head>
<title>Fallback</title>
<meta property="og:title" content="A post">
<meta property="og:site_name" content="Instagram">
<meta name="description" content="Caption text">
<meta property="og:image" content="https://scontent.cdninstagram.com/v/p.jpg">
</head><body><p>Hello <b>there</b></p><script>alert(1)</script><a href="javascript:x()" onclick="y()">link</a></body></html>`)
	up := &fakeUpstream{fn: respond(http.StatusOK, "text/html; charset=utf-8", page)}
	_, r, _ := setup(t, up, nil)

	w := get(r, relayURL("embed", "url", "https://www.instagram.com/p/abc/"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=600", w.Header().Get("Cache-Control"))

	var embed Embed
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &embed))
	assert.Equal(t, "A post", embed.Title)
	assert.Equal(t, "Instagram", embed.SiteName)
	assert.Equal(t, "Caption text", embed.Description)
	assert.Equal(t, "/relay/embed-image?url="+url.QueryEscape("https://scontent.cdninstagram.com/v/p.jpg"), embed.Image)
	assert.Contains(t, embed.HTML, "<b>there</b>")
	assert.NotContains(t, embed.HTML, "<script")
	assert.NotContains(t, embed.HTML, "onclick")
	assert.NotContains(t, embed.HTML, "javascript:")
}

func TestEmbedDropsForeignImage(t *testing.T) {
	page := []byte(`<html><head><title> Clip </title><meta property="og:image" content="https://tracker.example.net/i.png"></head><body></body></html>`)
	up := &fakeUpstream{fn: respond(http.StatusOK, "text/html", page)}
	svc, _, _ := setup(t, up, nil)

	embed, err := svc.FetchEmbed(context.Background(), "https://www.youtube.com/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, "Clip", embed.Title)
	assert.Empty(t, embed.Image)
}

func TestEmbedDecodesCharset(t *testing.T) {
	// "café" in windows-1252
	page := []byte("<html><head><meta property=\"og:title\" content=\"caf\xe9\"></head><body></body></html>")
	up := &fakeUpstream{fn: respond(http.StatusOK, "text/html; charset=windows-1252", page)}
	svc, _, _ := setup(t, up, nil)

	embed, err := svc.FetchEmbed(context.Background(), "https://x.com/a/status/1")
	require.NoError(t, err)
	assert.Equal(t, "café", embed.Title)
}

func TestEmbedReferer(t *testing.T) {
	up := &fakeUpstream{fn: respond(http.StatusOK, "image/jpeg", jpeg)}
	_, r, _ := setup(t, up, nil)
	target := relayURL("embed-image", "url", "https://i.ytimg.com/vi/1/hq.jpg")

	w := get(r, target, http.Header{"Referer": {"https://other.site/page"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Referer mismatch"}`, w.Body.String())

	w = get(r, target, http.Header{"Referer": {"http://example.com/page"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestImageMustSniffAsImage(t *testing.T) {
	up := &fakeUpstream{fn: respond(http.StatusOK, "image/png", []byte("<script>alert(1)</script>"))}
	_, r, _ := setup(t, up, nil)

	w := get(r, relayURL("embed-image", "url", "https://pbs.twimg.com/media/a.png"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Content type not allowed"}`, w.Body.String())
}

func TestBuildRules(t *testing.T) {
	rules, err := BuildRules(map[string]string{
		"/_scripts/ga":      "https://www.google-analytics.com/**",
		"/_scripts/gtm/":    "www.googletagmanager.com/gtag/**",
		"/_scripts/gtm-all": "www.googletagmanager.com",
	})
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, InterceptRule{Pattern: "www.google-analytics.com", PathPrefix: "/", Target: "/_scripts/ga"}, rules[0])
	assert.Equal(t, InterceptRule{Pattern: "www.googletagmanager.com", PathPrefix: "/gtag", Target: "/_scripts/gtm"}, rules[1])
	assert.Equal(t, "/", rules[2].PathPrefix)

	u, _ := url.Parse("https://www.googletagmanager.com/gtag/js?id=G-1")
	target, ok := Rewrite(rules, u)
	assert.True(t, ok)
	assert.Equal(t, "/_scripts/gtm/js?id=G-1", target)

	u, _ = url.Parse("https://region1.google-analytics.com/g/collect")
	assert.False(t, Match(rules[0], u))
	u, _ = url.Parse("https://eu.www.google-analytics.com/g/collect")
	assert.True(t, Match(rules[0], u))
	target, ok = Rewrite(rules, u)
	assert.True(t, ok)
	assert.Equal(t, "/_scripts/ga/g/collect", target)

	u, _ = url.Parse("https://notgoogle-analytics.com/x")
	_, ok = Rewrite(rules, u)
	assert.False(t, ok)

	_, err = BuildRules(map[string]string{"/x": "https://"})
	assert.Error(t, err)
}

func TestWorkerScript(t *testing.T) {
	up := &fakeUpstream{fn: respond(http.StatusOK, "", nil)}
	svc, r, _ := setup(t, up, map[string]string{"/_scripts/ga": "https://www.google-analytics.com/**"})

	w := get(r, "/sw.js", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/", w.Header().Get("Service-Worker-Allowed"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/javascript"))
	assert.Equal(t, svc.WorkerScript(), w.Body.Bytes())

	_, err := goja.Compile("sw.js", w.Body.String(), false)
	require.NoError(t, err)

	vm := goja.New()
	_, err = vm.RunString(strings.SplitN(w.Body.String(), "\n", 3)[1] + "\nvar rules = INTERCEPT_RULES;")
	require.NoError(t, err)
	var rules []InterceptRule
	raw, err := sonic.Marshal(vm.Get("rules").Export())
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(raw, &rules))
	assert.Equal(t, svc.Rules(), rules)
}

func TestEmptyWorker(t *testing.T) {
	out, err := Worker(nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "const INTERCEPT_RULES = [];")
}
