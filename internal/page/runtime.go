package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrClosed is returned once the document has been closed
var ErrClosed = errors.New("document closed")

// Run executes src with the configured timeout
func (d *Document) Run(ctx context.Context, name, src string) (interface{}, error) {
	d.vmMu.Lock()
	defer d.vmMu.Unlock()

	if d.vm == nil {
		return nil, ErrClosed
	}

	timeout := d.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-timer.C:
			d.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			d.vm.Interrupt("context cancelled")
		case <-stop:
		}
	}()

	val, err := d.vm.RunScript(name, src)
	d.vm.ClearInterrupt()
	if err != nil {
		return nil, err
	}
	return exportValue(val), nil
}

// setupGlobals installs the browser-like globals scripts expect
func (d *Document) setupGlobals() error {
	vm := d.vm

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	global := vm.GlobalObject()
	if err := vm.Set("window", global); err != nil {
		return err
	}
	if err := vm.Set("self", global); err != nil {
		return err
	}

	if d.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, d.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := vm.Set("console", console); err != nil {
			return err
		}
	}

	if err := vm.Set("setTimeout", d.jsSetTimeout); err != nil {
		return err
	}
	if err := vm.Set("clearTimeout", d.jsClearTimeout); err != nil {
		return err
	}
	// intervals never fire; polling loops would keep the page busy forever
	if err := vm.Set("setInterval", func(goja.FunctionCall) goja.Value { return vm.ToValue(0) }); err != nil {
		return err
	}
	if err := vm.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() }); err != nil {
		return err
	}
	if err := vm.Set("addEventListener", d.makeListenerFunc("window")); err != nil {
		return err
	}

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", d.config.UserAgent)
	_ = navigator.Set("language", "en-US")
	if err := vm.Set("navigator", navigator); err != nil {
		return err
	}

	if err := vm.Set("location", d.locationObject()); err != nil {
		return err
	}

	return d.injectDocument()
}

func (d *Document) locationObject() *goja.Object {
	loc := d.vm.NewObject()
	u, err := url.Parse(d.config.URL)
	if err != nil || d.config.URL == "" {
		u = &url.URL{Scheme: "https", Host: "localhost", Path: "/"}
	}
	_ = loc.Set("href", u.String())
	_ = loc.Set("protocol", u.Scheme+":")
	_ = loc.Set("hostname", u.Hostname())
	_ = loc.Set("host", u.Host)
	_ = loc.Set("pathname", u.Path)
	_ = loc.Set("search", u.RawQuery)
	return loc
}

// injectDocument installs the document proxy
func (d *Document) injectDocument() error {
	document := d.vm.NewObject()
	_ = document.Set("readyState", "complete")
	_ = document.Set("title", "")
	_ = document.Set("cookie", "")
	_ = document.Set("referrer", "")
	_ = document.Set("querySelector", d.makeQueryFunc(false))
	_ = document.Set("querySelectorAll", d.makeQueryFunc(true))
	_ = document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return d.makeQueryFunc(false)(goja.FunctionCall{Arguments: []goja.Value{d.vm.ToValue("#" + call.Argument(0).String())}})
	})
	_ = document.Set("addEventListener", d.makeListenerFunc("document"))
	_ = document.Set("head", d.createElementProxy(d.dom.Head()))
	_ = document.Set("body", d.createElementProxy(d.dom.Body()))
	return d.vm.Set("document", document)
}

// makeConsoleFunc creates a console function
func (d *Document) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		msg := strings.Join(parts, " ")

		d.consoleMu.Lock()
		d.console = append(d.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		d.consoleMu.Unlock()

		d.logger.Debug("page console", zap.String("level", level), zap.String("message", msg))
		return goja.Undefined()
	}
}

func (d *Document) makeQueryFunc(all bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		elements := d.dom.Query(call.Argument(0).String())
		if all {
			proxies := make([]interface{}, 0, len(elements))
			for _, e := range elements {
				proxies = append(proxies, d.createElementProxy(e))
			}
			return d.vm.ToValue(proxies)
		}
		if len(elements) == 0 {
			return goja.Null()
		}
		return d.vm.ToValue(d.createElementProxy(elements[0]))
	}
}

// makeListenerFunc registers script listeners on target
func (d *Document) makeListenerFunc(target string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		event := call.Argument(0).String()

		d.mu.Lock()
		if d.jsListeners[target] == nil {
			d.jsListeners[target] = make(map[string][]goja.Callable)
		}
		d.jsListeners[target][event] = append(d.jsListeners[target][event], fn)
		d.mu.Unlock()
		return goja.Undefined()
	}
}

// createElementProxy creates a proxy for a DOM element
func (d *Document) createElementProxy(elem *Element) map[string]interface{} {
	return map[string]interface{}{
		"tagName":     strings.ToUpper(elem.TagName),
		"id":          elem.ID,
		"className":   elem.ClassName,
		"textContent": elem.TextContent,
		"getAttribute": func(name string) string {
			return elem.GetAttribute(name)
		},
		"setAttribute": func(name, value string) {
			elem.SetAttribute(name, value)
		},
	}
}

func (d *Document) jsSetTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return d.vm.ToValue(0)
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	args := append([]goja.Value(nil), call.Arguments[min(2, len(call.Arguments)):]...)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.vm.ToValue(0)
	}
	d.next++
	timerID := d.next
	d.timers[timerID] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		_, live := d.timers[timerID]
		delete(d.timers, timerID)
		d.mu.Unlock()
		if !live {
			return
		}

		d.vmMu.Lock()
		defer d.vmMu.Unlock()
		if d.vm == nil {
			return
		}
		if _, err := fn(goja.Undefined(), args...); err != nil {
			d.logger.Debug("timer callback failed", zap.Error(err))
		}
	})
	d.mu.Unlock()

	return d.vm.ToValue(timerID)
}

func (d *Document) jsClearTimeout(call goja.FunctionCall) goja.Value {
	timerID := uint64(call.Argument(0).ToInteger())
	d.mu.Lock()
	if t, ok := d.timers[timerID]; ok {
		t.Stop()
		delete(d.timers, timerID)
	}
	d.mu.Unlock()
	return goja.Undefined()
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

func describe(err error) string {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.Value().String()
	}
	return fmt.Sprint(err)
}
