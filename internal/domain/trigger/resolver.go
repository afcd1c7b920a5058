package trigger

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Resolver resolves trigger specs against a host
type Resolver struct {
	logger    *zap.Logger
	swTimeout time.Duration
}

// NewResolver creates a resolver
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger, swTimeout: DefaultServiceWorkerTimeout}
}

// WithServiceWorkerTimeout sets the fallback used by ServiceWorkerReady
// specs that carry no timeout of their own
func (r *Resolver) WithServiceWorkerTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.swTimeout = d
	}
	return r
}

// Resolve resolves spec with a no-op logger
func Resolve(spec Spec, host Host, scope *async.Scope) *async.Future[bool] {
	return NewResolver(nil).Resolve(spec, host, scope)
}

// Resolve returns a future settling true when spec fires and false when
// scope is disposed first
func (r *Resolver) Resolve(spec Spec, host Host, scope *async.Scope) *async.Future[bool] {
	if scope.Disposed() {
		return async.Resolved(false)
	}
	if host.Mode() == script.ModeServer && spec.ClientOnly() {
		return async.NewFuture[bool]()
	}

	res := newResolution()
	res.onSettle(scope.OnDispose(func() { res.settle(false) }))

	switch spec.Kind {
	case KindImmediate:
		res.settle(true)

	case KindManual:
		// settled only by scope disposal; loads are forced by the registry

	case KindIdleTimeout:
		r.idleTimeout(res, host, spec.Timeout)

	case KindElementEvent:
		res.onSettle(host.ObserveElement(spec.Selector, spec.Element, func() { res.settle(true) }))

	case KindInteraction:
		target := spec.Target
		if target == "" {
			target = DocumentTarget
		}
		for _, ev := range spec.Events {
			res.onSettle(host.AddEventListener(target, ev, func() { res.settle(true) }))
		}

	case KindServiceWorkerReady:
		r.serviceWorker(res, host, spec.Timeout)

	case KindAwait:
		if spec.Future == nil {
			res.settle(true)
			break
		}
		forward(res, spec.Future)

	case KindSignal:
		forward(res, async.FromSignal(scope.Context(), spec.Signal))
	}

	return res.out
}

func (r *Resolver) idleTimeout(res *resolution, host Host, d time.Duration) {
	go func() {
		select {
		case <-host.AppReady():
		case <-res.out.Done():
			return
		}
		if d <= 0 {
			res.settle(true)
			return
		}
		t := time.AfterFunc(d, func() { res.settle(true) })
		res.onSettle(func() { t.Stop() })
	}()
}

func (r *Resolver) serviceWorker(res *resolution, host Host, timeout time.Duration) {
	sw := host.ServiceWorker()
	if sw == nil || sw.Controlled() {
		res.settle(true)
		return
	}
	if timeout <= 0 {
		timeout = r.swTimeout
	}
	res.onSettle(sw.OnControllerChange(func() { res.settle(true) }))
	t := time.AfterFunc(timeout, func() {
		if res.settle(true) {
			r.logger.Warn("service worker did not take control, loading anyway",
				zap.Duration("timeout", timeout))
		}
	})
	res.onSettle(func() { t.Stop() })
}

func forward(res *resolution, f *async.Future[bool]) {
	go func() {
		select {
		case <-f.Done():
			v, err := f.Result()
			res.settle(err == nil && v)
		case <-res.out.Done():
		}
	}()
}

// resolution settles a future once and detaches every registered cleanup
type resolution struct {
	out *async.Future[bool]

	mu       sync.Mutex
	cleanups []func()
	done     bool
}

func newResolution() *resolution {
	return &resolution{out: async.NewFuture[bool]()}
}

// onSettle registers a cleanup. After settlement it runs at once.
func (r *resolution) onSettle(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		fn()
		return
	}
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

func (r *resolution) settle(v bool) bool {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return false
	}
	r.done = true
	cleanups := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	r.out.Resolve(v)
	return true
}
