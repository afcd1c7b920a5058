package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Kind tags a trigger variant
type Kind int

const (
	KindImmediate Kind = iota
	KindManual
	KindIdleTimeout
	KindElementEvent
	KindInteraction
	KindServiceWorkerReady
	KindAwait
	KindSignal
)

var kindNames = map[Kind]string{
	KindImmediate:          "immediate",
	KindManual:             "manual",
	KindIdleTimeout:        "idle-timeout",
	KindElementEvent:       "element-event",
	KindInteraction:        "interaction",
	KindServiceWorkerReady: "service-worker-ready",
	KindAwait:              "await",
	KindSignal:             "signal",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ElementKind selects the element condition watched by ElementEvent
type ElementKind int

const (
	Visible ElementKind = iota
	Hover
)

func (k ElementKind) String() string {
	if k == Hover {
		return "hover"
	}
	return "visible"
}

// DefaultServiceWorkerTimeout bounds the wait for a controller
const DefaultServiceWorkerTimeout = 3 * time.Second

// DocumentTarget is the default target of interaction triggers
const DocumentTarget = "document"

// Spec is a tagged trigger variant. Build it with the constructors below.
type Spec struct {
	Kind     Kind
	Timeout  time.Duration
	Selector string
	Element  ElementKind
	Events   []string
	Target   string
	Future   *async.Future[bool]
	Signal   <-chan bool
}

// Immediate resolves as soon as it is requested, on client and server
func Immediate() Spec { return Spec{Kind: KindImmediate} }

// Manual resolves only through an explicit load
func Manual() Spec { return Spec{Kind: KindManual} }

// OnReady resolves once the application signals ready
func OnReady() Spec { return IdleTimeout(0) }

// IdleTimeout resolves d after the application signals ready
func IdleTimeout(d time.Duration) Spec { return Spec{Kind: KindIdleTimeout, Timeout: d} }

// ElementEvent resolves on the first visibility or hover of selector
func ElementEvent(selector string, kind ElementKind) Spec {
	return Spec{Kind: KindElementEvent, Selector: selector, Element: kind}
}

// Interaction resolves on the first of the named events on the document
func Interaction(events ...string) Spec {
	return Spec{Kind: KindInteraction, Events: events, Target: DocumentTarget}
}

// On retargets an interaction trigger
func (s Spec) On(target string) Spec {
	s.Target = target
	return s
}

// ServiceWorkerReady resolves once a service worker controls the page
func ServiceWorkerReady(timeout time.Duration) Spec {
	if timeout <= 0 {
		timeout = DefaultServiceWorkerTimeout
	}
	return Spec{Kind: KindServiceWorkerReady, Timeout: timeout}
}

// Await adapts an external future
func Await(f *async.Future[bool]) Spec { return Spec{Kind: KindAwait, Future: f} }

// Signal resolves on the first true value received from ch
func Signal(ch <-chan bool) Spec { return Spec{Kind: KindSignal, Signal: ch} }

// ClientOnly reports whether the trigger depends on a live document
func (s Spec) ClientOnly() bool {
	switch s.Kind {
	case KindIdleTimeout, KindElementEvent, KindInteraction, KindServiceWorkerReady:
		return true
	}
	return false
}

func (s Spec) String() string {
	switch s.Kind {
	case KindIdleTimeout:
		return fmt.Sprintf("idle:%s", s.Timeout)
	case KindElementEvent:
		return fmt.Sprintf("%s:%s", s.Element, s.Selector)
	case KindInteraction:
		return "interaction:" + strings.Join(s.Events, ",")
	case KindServiceWorkerReady:
		if s.Timeout <= 0 {
			return "service-worker"
		}
		return fmt.Sprintf("service-worker:%s", s.Timeout)
	}
	return s.Kind.String()
}

// Parse reads the textual trigger form used by registration manifests:
// "immediate", "manual", "ready", "idle:2s", "visible:#map", "hover:#chat",
// "interaction:click,scroll" and "service-worker[:5s]".
func Parse(s string) (Spec, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(name) {
	case "", "immediate":
		return Immediate(), nil
	case "manual":
		return Manual(), nil
	case "ready", "onready":
		return OnReady(), nil
	case "idle":
		d, err := time.ParseDuration(arg)
		if err != nil {
			return Spec{}, fmt.Errorf("trigger %q: %w", s, err)
		}
		return IdleTimeout(d), nil
	case "visible", "hover":
		if arg == "" {
			return Spec{}, fmt.Errorf("trigger %q: selector required", s)
		}
		kind := Visible
		if name == "hover" {
			kind = Hover
		}
		return ElementEvent(arg, kind), nil
	case "interaction":
		events := strings.Split(arg, ",")
		if arg == "" {
			events = []string{"click", "scroll", "keydown"}
		}
		return Interaction(events...), nil
	case "service-worker":
		if arg == "" {
			// the resolver applies its configured timeout
			return Spec{Kind: KindServiceWorkerReady}, nil
		}
		d, err := time.ParseDuration(arg)
		if err != nil {
			return Spec{}, fmt.Errorf("trigger %q: %w", s, err)
		}
		return ServiceWorkerReady(d), nil
	}
	return Spec{}, fmt.Errorf("unknown trigger %q", s)
}
