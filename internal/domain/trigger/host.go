package trigger

import (
	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
)

// Host is the execution environment a trigger observes
type Host interface {
	Mode() script.Mode
	// AppReady is closed once the application signals ready
	AppReady() <-chan struct{}
	// ObserveElement calls fn on the first matching condition of selector
	ObserveElement(selector string, kind ElementKind, fn func()) (stop func())
	AddEventListener(target, event string, fn func()) (remove func())
	RequestIdleCallback(fn func()) (cancel func())
	// ServiceWorker returns nil when the host has no service worker support
	ServiceWorker() ServiceWorker
}

// ServiceWorker is the controller surface of a service worker container
type ServiceWorker interface {
	Controlled() bool
	OnControllerChange(fn func()) (remove func())
}
