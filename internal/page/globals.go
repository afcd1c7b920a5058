package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Globals reads and calls runtime globals by dotted path
type Globals struct {
	d *Document
}

// Globals returns the accessor for this document
func (d *Document) Globals() *Globals {
	return &Globals{d: d}
}

// Get exports the value at path ("dataLayer", "fathom.trackEvent")
func (g *Globals) Get(path string) (interface{}, bool) {
	g.d.vmMu.Lock()
	defer g.d.vmMu.Unlock()

	_, v, ok := g.lookup(path)
	if !ok {
		return nil, false
	}
	return exportValue(v), true
}

// Has reports whether path resolves to a defined value
func (g *Globals) Has(path string) bool {
	g.d.vmMu.Lock()
	defer g.d.vmMu.Unlock()

	_, _, ok := g.lookup(path)
	return ok
}

// Call invokes the function at path with its parent object as receiver
func (g *Globals) Call(path string, args ...interface{}) (interface{}, error) {
	g.d.vmMu.Lock()
	defer g.d.vmMu.Unlock()

	this, v, ok := g.lookup(path)
	if !ok {
		return nil, fmt.Errorf("%s is not defined", path)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", path)
	}

	vm := g.d.vm
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = vm.ToValue(a)
	}
	res, err := fn(this, values...)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", path, describe(err))
	}
	return exportValue(res), nil
}

// Eval runs src in the page
func (g *Globals) Eval(ctx context.Context, src string) error {
	_, err := g.d.Run(ctx, "eval", src)
	if err != nil {
		return fmt.Errorf("eval: %s", describe(err))
	}
	return nil
}

// lookup walks path from the global object; callers hold vmMu
func (g *Globals) lookup(path string) (goja.Value, goja.Value, bool) {
	vm := g.d.vm
	if vm == nil || path == "" {
		return nil, nil, false
	}

	var this goja.Value = vm.GlobalObject()
	obj := vm.GlobalObject()
	parts := strings.Split(path, ".")
	for i, part := range parts {
		v := obj.Get(part)
		if v == nil || goja.IsUndefined(v) {
			return nil, nil, false
		}
		if i == len(parts)-1 {
			return this, v, true
		}
		if goja.IsNull(v) {
			return nil, nil, false
		}
		next, ok := v.(*goja.Object)
		if !ok {
			return nil, nil, false
		}
		this, obj = next, next
	}
	return nil, nil, false
}
