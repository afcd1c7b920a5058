package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

const (
	NameProxy      = "proxy"
	NameInline     = "inline"
	NameIdleDefer  = "idle-defer"
	NameManualGate = "manual-gate"
)

// AssetFetcher fetches a remote asset through the relay
type AssetFetcher interface {
	FetchAsset(ctx context.Context, src string) ([]byte, error)
}

// AssetFetcherFunc adapts a function to AssetFetcher
type AssetFetcherFunc func(ctx context.Context, src string) ([]byte, error)

// FetchAsset calls f
func (f AssetFetcherFunc) FetchAsset(ctx context.Context, src string) ([]byte, error) {
	return f(ctx, src)
}

type proxy struct {
	prefix string
}

// Proxy rewrites src to the relay proxy endpoint under prefix
func Proxy(prefix string) Preset {
	return &proxy{prefix: strings.TrimRight(prefix, "/")}
}

func (p *proxy) Name() string { return NameProxy }

func (p *proxy) Transform(_ context.Context, tc *Context) error {
	if tc.Script.Src == "" {
		return nil
	}
	target := p.prefix + "/proxy?url=" + url.QueryEscape(tc.Script.Src)
	if tc.Script.Integrity != "" {
		target += "&integrity=" + url.QueryEscape(tc.Script.Integrity)
	}
	tc.Script.Src = target
	return nil
}

type inline struct {
	fetcher AssetFetcher
	dev     bool
}

// Inline embeds the remote body. A supplied integrity hash is checked
// against the fetched body and moved into a CSP header.
func Inline(fetcher AssetFetcher, dev bool) Preset {
	return &inline{fetcher: fetcher, dev: dev}
}

func (p *inline) Name() string { return NameInline }

func (p *inline) Transform(ctx context.Context, tc *Context) error {
	src := tc.Script.Src
	if src == "" {
		return nil
	}
	body, err := p.fetcher.FetchAsset(ctx, src)
	if err != nil {
		return &script.RelayFetchError{URL: src, Err: err}
	}

	if integrity := tc.Script.Integrity; integrity != "" {
		if err := script.VerifyIntegrity(integrity, body); err != nil {
			return &script.SecurityPolicyViolation{URL: src, Reason: err}
		}
		tc.Headers.Add(CSPHeader(p.dev), CSPValue(integrity))
		tc.Script.Integrity = ""
		tc.Script.Attributes.Delete("integrity")
	}

	tc.Script.Body = string(body)
	tc.Script.Src = ""
	tc.Script.Attributes.Delete("src")
	tc.Script.Attributes.Delete("crossorigin")
	return nil
}

// CSPHeader returns the header name, report-only in development
func CSPHeader(dev bool) string {
	if dev {
		return "Content-Security-Policy-Report-Only"
	}
	return "Content-Security-Policy"
}

// CSPValue scopes script-src to the hashes in integrity
func CSPValue(integrity string) string {
	parts := []string{"script-src", "'self'"}
	for _, h := range strings.Fields(integrity) {
		parts = append(parts, "'"+h+"'")
	}
	return strings.Join(parts, " ")
}

type idleDefer struct{}

// IdleDefer keeps the script client-only and waits for an idle callback
// after the ready future
func IdleDefer() Preset {
	return idleDefer{}
}

func (idleDefer) Name() string { return NameIdleDefer }

func (idleDefer) Transform(ctx context.Context, tc *Context) error {
	tc.ClientOnly = true
	host := tc.Host
	if host == nil {
		return fmt.Errorf("no host to schedule idle callbacks")
	}
	tc.Ready = async.Then(ctx, tc.Ready, func() *async.Future[bool] {
		f := async.NewFuture[bool]()
		cancel := host.RequestIdleCallback(func() { f.Resolve(true) })
		context.AfterFunc(ctx, cancel)
		return f
	})
	return nil
}

type manualGate struct {
	signal <-chan bool
	future *async.Future[bool]
}

// ManualGate replaces the ready future with one resolving on the first
// true value from signal
func ManualGate(signal <-chan bool) Preset {
	return &manualGate{signal: signal}
}

// ManualGateFuture replaces the ready future with f
func ManualGateFuture(f *async.Future[bool]) Preset {
	return &manualGate{future: f}
}

func (g *manualGate) Name() string { return NameManualGate }

func (g *manualGate) Transform(ctx context.Context, tc *Context) error {
	if g.future != nil {
		tc.Ready = g.future
		return nil
	}
	tc.Ready = async.FromSignal(ctx, g.signal)
	return nil
}

// Deps carries what named presets need when declared in manifests
type Deps struct {
	RelayPrefix string
	Fetcher     AssetFetcher
	Dev         bool
}

// ByName resolves a preset declared by name
func ByName(name string, deps Deps) (Preset, error) {
	switch name {
	case NameProxy:
		return Proxy(deps.RelayPrefix), nil
	case NameInline:
		if deps.Fetcher == nil {
			return nil, fmt.Errorf("preset %s needs a relay fetcher", name)
		}
		return Inline(deps.Fetcher, deps.Dev), nil
	case NameIdleDefer:
		return IdleDefer(), nil
	case NameManualGate:
		return nil, fmt.Errorf("preset %s needs a signal and cannot be declared by name", name)
	}
	return nil, fmt.Errorf("unknown preset %q", name)
}
