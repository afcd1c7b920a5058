// Package trigger turns a declarative trigger specification into a single
// cancellable ready signal.
//
// Resolve returns a one-shot future that settles true when the configured
// condition occurs and false when the owning scope is disposed first. Every
// listener, timer and observer a trigger registers is detached on either
// outcome. On server hosts client-only triggers never settle.
//
// Example Usage:
//
//	ready := trigger.NewResolver(logger).Resolve(trigger.Interaction("click", "touchstart"), doc, scope)
//	ok, err := ready.Await(ctx)
package trigger
