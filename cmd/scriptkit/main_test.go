package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProvidersCommand(t *testing.T) {
	out, err := run(t, "providers")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "plausible")
	assert.Contains(t, out, "useScriptGoogleAnalytics")

	out, err = run(t, "providers", "--category", "payments", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"key": "stripe"`)
	assert.NotContains(t, out, "plausible")
}

func TestWorkerCommand(t *testing.T) {
	out, err := run(t, "sw", "--route", "/_scripts/ga=www.google-analytics.com/**")
	require.NoError(t, err)
	assert.Contains(t, out, "INTERCEPT_RULES")
	assert.Contains(t, out, "www.google-analytics.com")

	out, err = run(t, "sw", "--rules", "--route", "/_scripts/ga=www.google-analytics.com/**")
	require.NoError(t, err)
	assert.Contains(t, out, `"pattern": "www.google-analytics.com"`)
	assert.Contains(t, out, `"target": "/_scripts/ga"`)

	_, err = run(t, "sw", "--route", "/x=https://")
	assert.Error(t, err)
}

func scriptServer(t *testing.T, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSizeCommand(t *testing.T) {
	t.Setenv("RELAY_ALLOW_PRIVATE", "true")
	t.Setenv("CACHE_IN_MEMORY", "true")
	srv := scriptServer(t, strings.Repeat("window.analytics = window.analytics || [];\n", 100))

	out, err := run(t, "size", srv.URL+"/a.js")
	require.NoError(t, err)
	assert.Contains(t, out, "TRANSFER")
	assert.Contains(t, out, srv.URL+"/a.js")
	assert.Contains(t, out, "kB")

	_, err = run(t, "size")
	assert.Error(t, err)
}

func TestProbeCommand(t *testing.T) {
	t.Setenv("RELAY_ALLOW_PRIVATE", "true")
	srv := scriptServer(t, "window.probeLib = { ok: true };")

	dir := t.TempDir()
	manifest := "providers:\n" +
		"  - key: probe-lib\n" +
		"    category: analytics\n" +
		"    label: Probe\n" +
		"    importPath: " + srv.URL + "/lib.js\n" +
		"    global: probeLib\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "probe.yaml"), []byte(manifest), 0o644))

	out, err := run(t, "--manifests", dir, "probe", "probe-lib", "--global", "probeLib.ok", "--global", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "provider: probe-lib")
	assert.Contains(t, out, "status:   loaded")
	assert.Contains(t, out, "global:   probeLib.ok = true")
	assert.Contains(t, out, "global:   missing undefined")
}

func TestProbeErrors(t *testing.T) {
	_, err := run(t, "probe", "nope")
	assert.ErrorContains(t, err, "provider not found")

	_, err = run(t, "probe", "plausible", "domain")
	assert.ErrorContains(t, err, "not name=value")
}
