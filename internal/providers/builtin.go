package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/GriffinCanCode/scriptkit/internal/domain/adapter"
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
)

// GoogleAnalytics is the gtag.js command API
type GoogleAnalytics struct {
	rt adapter.Runtime
}

// Gtag queues a gtag command
func (g GoogleAnalytics) Gtag(args ...interface{}) error {
	_, err := g.rt.Call("gtag", args...)
	return err
}

// Event sends a named event
func (g GoogleAnalytics) Event(name string, params map[string]interface{}) error {
	return g.Gtag("event", name, params)
}

// DataLayer returns the queued commands
func (g GoogleAnalytics) DataLayer() []interface{} {
	v, _ := g.rt.Get("dataLayer")
	items, _ := v.([]interface{})
	return items
}

// GoogleAnalyticsProvider loads gtag.js for a measurement id
var GoogleAnalyticsProvider = adapter.Define[GoogleAnalytics]("google-analytics",
	func(opts adapter.Options) (adapter.Setup, error) {
		id := opts.String("id")
		return adapter.Setup{
			Descriptor: script.Descriptor{
				Src:        "https://www.googletagmanager.com/gtag/js?id=" + url.QueryEscape(id),
				Attributes: script.NewAttributes(script.Attribute{Name: "async"}),
			},
			Trigger: trigger.OnReady(),
		}, nil
	},
	adapter.WithSchema[GoogleAnalytics](map[string]interface{}{
		"id": "required,startswith=G-",
		"l":  "omitempty,alphanum",
	}),
	adapter.WithBeforeInit[GoogleAnalytics](func(ctx context.Context, rt adapter.Runtime, opts adapter.Options) error {
		layer := opts.String("l")
		if layer == "" {
			layer = "dataLayer"
		}
		return rt.Eval(ctx, fmt.Sprintf(
			"window.%[1]s = window.%[1]s || [];"+
				"window.gtag = function () { window.%[1]s.push(Array.prototype.slice.call(arguments)); };"+
				"gtag('js', new Date()); gtag('config', %[2]s);",
			layer, strconv.Quote(opts.String("id"))))
	}),
	adapter.WithUse(func(rt adapter.Runtime) (GoogleAnalytics, error) {
		if !rt.Has("gtag") {
			return GoogleAnalytics{}, errors.New("gtag is not defined")
		}
		return GoogleAnalytics{rt: rt}, nil
	}),
)

// Plausible is the plausible() event API
type Plausible struct {
	rt adapter.Runtime
}

// Track sends a custom event
func (p Plausible) Track(event string, props map[string]interface{}) error {
	var err error
	if props == nil {
		_, err = p.rt.Call("plausible", event)
	} else {
		_, err = p.rt.Call("plausible", event, map[string]interface{}{"props": props})
	}
	return err
}

// PlausibleProvider loads Plausible for a site domain
var PlausibleProvider = adapter.Define[Plausible]("plausible",
	func(opts adapter.Options) (adapter.Setup, error) {
		src := "https://plausible.io/js/script.js"
		if ext := opts.String("extension"); ext != "" {
			src = "https://plausible.io/js/script." + ext + ".js"
		}
		return adapter.Setup{
			Descriptor: script.Descriptor{
				Src: src,
				Attributes: script.NewAttributes(
					script.Attribute{Name: "defer"},
					script.Attribute{Name: "data-domain", Value: opts.String("domain")},
				),
			},
			Trigger: trigger.OnReady(),
		}, nil
	},
	adapter.WithSchema[Plausible](map[string]interface{}{
		"domain":    "required,fqdn",
		"extension": "omitempty,oneof=hash outbound-links file-downloads tagged-events",
	}),
	adapter.WithBeforeInit[Plausible](func(ctx context.Context, rt adapter.Runtime, _ adapter.Options) error {
		return rt.Eval(ctx, "window.plausible = window.plausible || function () { (window.plausible.q = window.plausible.q || []).push(arguments); };")
	}),
	adapter.WithUse(func(rt adapter.Runtime) (Plausible, error) {
		if !rt.Has("plausible") {
			return Plausible{}, errors.New("plausible is not defined")
		}
		return Plausible{rt: rt}, nil
	}),
)

// Fathom is the fathom tracking API
type Fathom struct {
	rt adapter.Runtime
}

// TrackPageview records a pageview
func (f Fathom) TrackPageview() error {
	_, err := f.rt.Call("fathom.trackPageview")
	return err
}

// TrackEvent records a named event
func (f Fathom) TrackEvent(name string) error {
	_, err := f.rt.Call("fathom.trackEvent", name)
	return err
}

// FathomProvider loads Fathom for a site id
var FathomProvider = adapter.Define[Fathom]("fathom",
	func(opts adapter.Options) (adapter.Setup, error) {
		return adapter.Setup{
			Descriptor: script.Descriptor{
				Src: "https://cdn.usefathom.com/script.js",
				Attributes: script.NewAttributes(
					script.Attribute{Name: "defer"},
					script.Attribute{Name: "data-site", Value: opts.String("site")},
				),
			},
			Trigger: trigger.OnReady(),
		}, nil
	},
	adapter.WithSchema[Fathom](map[string]interface{}{
		"site": "required,alphanum,uppercase",
	}),
	adapter.WithUse(func(rt adapter.Runtime) (Fathom, error) {
		if !rt.Has("fathom.trackEvent") {
			return Fathom{}, errors.New("fathom is not defined")
		}
		return Fathom{rt: rt}, nil
	}),
)

// Crisp is the $crisp command queue
type Crisp struct {
	rt adapter.Runtime
}

// Push queues a Crisp command such as ["do", "chat:open"]
func (c Crisp) Push(command ...interface{}) error {
	_, err := c.rt.Call("$crisp.push", command)
	return err
}

// Open opens the chat box
func (c Crisp) Open() error { return c.Push("do", "chat:open") }

// CrispProvider loads the Crisp chat widget on first interaction
var CrispProvider = adapter.Define[Crisp]("crisp",
	func(adapter.Options) (adapter.Setup, error) {
		return adapter.Setup{
			Descriptor: script.Descriptor{
				Src:        "https://client.crisp.chat/l.js",
				Attributes: script.NewAttributes(script.Attribute{Name: "async"}),
			},
			Trigger: trigger.Interaction("click", "scroll", "touchstart"),
		}, nil
	},
	adapter.WithSchema[Crisp](map[string]interface{}{
		"id": "required,uuid",
	}),
	adapter.WithBeforeInit[Crisp](func(ctx context.Context, rt adapter.Runtime, opts adapter.Options) error {
		return rt.Eval(ctx, "window.$crisp = window.$crisp || []; window.CRISP_WEBSITE_ID = "+strconv.Quote(opts.String("id"))+";")
	}),
	adapter.WithUse(func(rt adapter.Runtime) (Crisp, error) {
		if !rt.Has("$crisp.push") {
			return Crisp{}, errors.New("$crisp is not defined")
		}
		return Crisp{rt: rt}, nil
	}),
)

// Stripe wraps the Stripe.js constructor
type Stripe struct {
	rt adapter.Runtime
}

// New constructs a Stripe instance for a publishable key
func (s Stripe) New(publishableKey string) (interface{}, error) {
	return s.rt.Call("Stripe", publishableKey)
}

// StripeProvider loads Stripe.js
var StripeProvider = adapter.Define[Stripe]("stripe",
	func(opts adapter.Options) (adapter.Setup, error) {
		src := "https://js.stripe.com/v3/"
		if opts["advancedFraudSignals"] == false {
			src += "?advancedFraudSignals=false"
		}
		return adapter.Setup{
			Descriptor: script.Descriptor{Src: src},
			Trigger:    trigger.OnReady(),
		}, nil
	},
	adapter.WithSchema[Stripe](map[string]interface{}{
		"advancedFraudSignals": "omitempty",
	}),
	adapter.WithUse(func(rt adapter.Runtime) (Stripe, error) {
		if !rt.Has("Stripe") {
			return Stripe{}, errors.New("Stripe is not defined")
		}
		return Stripe{rt: rt}, nil
	}),
)

// Builtins returns the registrations of the built-in providers
func Builtins() []Registration {
	return []Registration{
		{
			Key: "google-analytics", Category: CategoryAnalytics, Label: "Google Analytics",
			Description: "Google Analytics 4 via gtag.js with a dataLayer command queue",
			ImportName:  "useScriptGoogleAnalytics",
			Hosts:       []string{"www.googletagmanager.com", "www.google-analytics.com", "*.google-analytics.com"},
			Factory:     GoogleAnalyticsProvider,
		},
		{
			Key: "plausible", Category: CategoryAnalytics, Label: "Plausible Analytics",
			Description: "Privacy friendly cookieless analytics",
			ImportName:  "useScriptPlausibleAnalytics",
			Hosts:       []string{"plausible.io"},
			Factory:     PlausibleProvider,
		},
		{
			Key: "fathom", Category: CategoryAnalytics, Label: "Fathom Analytics",
			Description: "Privacy focused website analytics",
			ImportName:  "useScriptFathomAnalytics",
			Hosts:       []string{"cdn.usefathom.com"},
			Factory:     FathomProvider,
		},
		{
			Key: "crisp", Category: CategorySupport, Label: "Crisp",
			Description: "Customer support chat widget",
			ImportName:  "useScriptCrisp",
			Hosts:       []string{"client.crisp.chat"},
			Factory:     CrispProvider,
		},
		{
			Key: "stripe", Category: CategoryPayments, Label: "Stripe",
			Description: "Stripe.js payments and fraud signals",
			ImportName:  "useScriptStripe",
			Hosts:       []string{"js.stripe.com", "*.stripe.com"},
			Factory:     StripeProvider,
		},
	}
}

// NewBuiltinCatalog returns a catalogue holding the built-ins
func NewBuiltinCatalog() *Catalog {
	c := NewCatalog()
	for _, reg := range Builtins() {
		reg.Source = SourceBuiltin
		if err := c.Register(reg); err != nil {
			panic(err)
		}
	}
	return c
}

// SourceBuiltin marks registrations compiled into the binary
const SourceBuiltin = "builtin"
