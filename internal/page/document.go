package page

import (
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/domain/trigger"
	"github.com/GriffinCanCode/scriptkit/internal/shared/id"
)

type observer struct {
	selector string
	kind     trigger.ElementKind
	fn       func()
}

// Document is a client page hosting injected scripts
type Document struct {
	id      id.PageID
	config  Config
	fetcher Fetcher
	logger  *zap.Logger
	dom     *DOM

	vm   *goja.Runtime
	vmMu sync.Mutex

	console   []LogEntry
	consoleMu sync.Mutex

	mu          sync.Mutex
	next        uint64
	listeners   map[string]map[string]map[uint64]func()
	jsListeners map[string]map[string][]goja.Callable
	observers   map[uint64]*observer
	idle        map[uint64]func()
	timers      map[uint64]*time.Timer
	scripts     map[string]*Element
	closed      bool

	ready     chan struct{}
	readyOnce sync.Once
	sw        *ServiceWorkerContainer
}

// New creates a document. fetcher may be nil when only inline scripts are
// injected.
func New(config Config, fetcher Fetcher, logger *zap.Logger) (*Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageID := id.NewPageID()
	d := &Document{
		id:          pageID,
		config:      config,
		fetcher:     fetcher,
		logger:      logger.With(zap.String("page", pageID.String())),
		dom:         NewDOM(),
		vm:          goja.New(),
		listeners:   make(map[string]map[string]map[uint64]func()),
		jsListeners: make(map[string]map[string][]goja.Callable),
		observers:   make(map[uint64]*observer),
		idle:        make(map[uint64]func()),
		timers:      make(map[uint64]*time.Timer),
		scripts:     make(map[string]*Element),
		ready:       make(chan struct{}),
	}
	d.vm.SetMaxCallStackSize(1024)
	if config.ServiceWorker {
		d.sw = newServiceWorkerContainer()
	}
	if err := d.setupGlobals(); err != nil {
		return nil, err
	}
	return d, nil
}

// ID returns the page identifier
func (d *Document) ID() id.PageID { return d.id }

// DOM returns the element tree
func (d *Document) DOM() *DOM { return d.dom }

// Mode reports client mode
func (d *Document) Mode() script.Mode { return script.ModeClient }

// AppReady is closed by MarkReady
func (d *Document) AppReady() <-chan struct{} { return d.ready }

// MarkReady signals that the application finished mounting
func (d *Document) MarkReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

// ServiceWorker returns the container, or nil when unsupported
func (d *Document) ServiceWorker() trigger.ServiceWorker {
	if d.sw == nil {
		return nil
	}
	return d.sw
}

// ServiceWorkerContainer returns the concrete container, or nil
func (d *Document) ServiceWorkerContainer() *ServiceWorkerContainer { return d.sw }

// AddEventListener registers fn for event on target ("document", "window"
// or a selector)
func (d *Document) AddEventListener(target, event string, fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listeners[target] == nil {
		d.listeners[target] = make(map[string]map[uint64]func())
	}
	if d.listeners[target][event] == nil {
		d.listeners[target][event] = make(map[uint64]func())
	}
	d.next++
	lid := d.next
	d.listeners[target][event][lid] = fn

	return func() {
		d.mu.Lock()
		delete(d.listeners[target][event], lid)
		d.mu.Unlock()
	}
}

// DispatchEvent fires event on target and returns how many listeners ran
func (d *Document) DispatchEvent(target, event string) int {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.listeners[target][event]))
	for _, fn := range d.listeners[target][event] {
		fns = append(fns, fn)
	}
	js := append([]goja.Callable(nil), d.jsListeners[target][event]...)
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if len(js) > 0 {
		d.vmMu.Lock()
		if d.vm != nil {
			ev := d.vm.NewObject()
			_ = ev.Set("type", event)
			for _, fn := range js {
				if _, err := fn(goja.Undefined(), ev); err != nil {
					d.logger.Debug("listener failed", zap.String("event", event), zap.Error(err))
				}
			}
		}
		d.vmMu.Unlock()
	}
	return len(fns) + len(js)
}

// ListenerCount returns the number of registered native listeners
func (d *Document) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, events := range d.listeners {
		for _, m := range events {
			n += len(m)
		}
	}
	return n
}

// ObserveElement watches selector for the first visibility or hover
func (d *Document) ObserveElement(selector string, kind trigger.ElementKind, fn func()) func() {
	d.mu.Lock()
	for _, e := range d.dom.Query(selector) {
		if elementState(e, kind) {
			d.mu.Unlock()
			fn()
			return func() {}
		}
	}
	d.next++
	oid := d.next
	d.observers[oid] = &observer{selector: selector, kind: kind, fn: fn}
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, oid)
		d.mu.Unlock()
	}
}

// ObserverCount returns the number of live element observers
func (d *Document) ObserverCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// Reveal marks elements matching selector as intersecting the viewport
func (d *Document) Reveal(selector string) int {
	return d.markElements(selector, trigger.Visible)
}

// Hover marks elements matching selector as under the pointer
func (d *Document) Hover(selector string) int {
	return d.markElements(selector, trigger.Hover)
}

func (d *Document) markElements(selector string, kind trigger.ElementKind) int {
	d.mu.Lock()
	elements := d.dom.Query(selector)
	for _, e := range elements {
		if kind == trigger.Hover {
			e.hovered = true
		} else {
			e.visible = true
		}
	}

	var fire []func()
	for oid, o := range d.observers {
		if o.kind != kind {
			continue
		}
		for _, e := range elements {
			if e.Matches(o.selector) {
				fire = append(fire, o.fn)
				delete(d.observers, oid)
				break
			}
		}
	}
	d.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	return len(fire)
}

func elementState(e *Element, kind trigger.ElementKind) bool {
	if kind == trigger.Hover {
		return e.hovered
	}
	return e.visible
}

// RequestIdleCallback queues fn for the next idle period
func (d *Document) RequestIdleCallback(fn func()) func() {
	d.mu.Lock()
	d.next++
	iid := d.next
	d.idle[iid] = fn
	var t *time.Timer
	if d.config.IdleDelay > 0 && !d.closed {
		t = time.AfterFunc(d.config.IdleDelay, func() { d.runIdle(iid) })
	}
	d.mu.Unlock()

	return func() {
		if t != nil {
			t.Stop()
		}
		d.mu.Lock()
		delete(d.idle, iid)
		d.mu.Unlock()
	}
}

// RunIdle runs every queued idle callback and returns how many ran
func (d *Document) RunIdle() int {
	d.mu.Lock()
	ids := make([]uint64, 0, len(d.idle))
	for iid := range d.idle {
		ids = append(ids, iid)
	}
	d.mu.Unlock()

	n := 0
	for _, iid := range ids {
		if d.runIdle(iid) {
			n++
		}
	}
	return n
}

func (d *Document) runIdle(iid uint64) bool {
	d.mu.Lock()
	fn, ok := d.idle[iid]
	delete(d.idle, iid)
	d.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// Console returns captured console output
func (d *Document) Console() []LogEntry {
	d.consoleMu.Lock()
	defer d.consoleMu.Unlock()
	return append([]LogEntry(nil), d.console...)
}

// Close stops timers and releases the runtime
func (d *Document) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for tid, t := range d.timers {
		t.Stop()
		delete(d.timers, tid)
	}
	d.idle = make(map[uint64]func())
	d.observers = make(map[uint64]*observer)
	d.mu.Unlock()

	d.vmMu.Lock()
	d.vm = nil
	d.vmMu.Unlock()
	return nil
}
