// Package registry owns every script instance of one host.
//
// The registry maps a script key to a single instance and guarantees that
// concurrent requests for the same key share that instance and its load
// future, so a script is injected at most once.
//
// Components:
//   - Registry: keyed instance store and lifecycle owner
//   - Handle: per-caller view (status, load, remove)
//   - Transition: status change notifications for metrics and streaming
//
// Lifecycle:
//   - Idle: trigger pending
//   - Loading: trigger fired, presets applied, script injected
//   - Loaded: script executed and use() succeeded
//   - Error: fetch, execution or use() failed; sticky until removed
//
// Example Usage:
//
//	reg := registry.New(ctx, doc, registry.WithLogger(logger))
//	h, err := reg.Request(scope, registry.Request{
//	    Descriptor: &script.Descriptor{Key: "stripe", Src: "https://js.stripe.com/v3/"},
//	    Trigger:    trigger.Interaction("click"),
//	    Use:        useStripe,
//	})
//	api, err := h.Load(ctx)
package registry
