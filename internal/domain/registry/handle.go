package registry

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/scriptkit/internal/domain/script"
	"github.com/GriffinCanCode/scriptkit/internal/shared/async"
)

// Handle is one caller's view of a shared instance
type Handle struct {
	r      *Registry
	inst   *instance
	once   sync.Once
	done   chan struct{}
	detach func()
}

func newHandle(r *Registry, inst *instance, scope *async.Scope) *Handle {
	h := &Handle{r: r, inst: inst, done: make(chan struct{})}
	if scope != nil {
		h.detach = scope.OnDispose(h.Remove)
	}
	return h
}

// Key returns the script key
func (h *Handle) Key() string { return h.inst.key }

// Status returns the current status
func (h *Handle) Status() script.Status { return h.inst.status.Get() }

// Subscribe observes status changes
func (h *Handle) Subscribe(fn func(script.Status)) (cancel func()) {
	return h.inst.status.Subscribe(fn)
}

// Load forces the trigger and waits for the runtime API. Every handle of
// a key receives the same value or the same error.
func (h *Handle) Load(ctx context.Context) (interface{}, error) {
	select {
	case <-h.done:
		return nil, script.ErrScriptRemoved
	default:
	}
	h.inst.force.Resolve(true)
	return h.inst.load.Await(ctx)
}

// Loaded returns the shared load future without forcing the trigger
func (h *Handle) Loaded() *async.Future[interface{}] {
	return h.inst.load
}

// Remove drops this handle's subscription. The instance is evicted when
// the last subscriber leaves. Repeated calls are no-ops.
func (h *Handle) Remove() {
	h.once.Do(func() {
		close(h.done)
		if h.detach != nil {
			h.detach()
		}
		h.r.release(h.inst)
	})
}

// Info returns a snapshot of the instance
func (h *Handle) Info() Info {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return infoLocked(h.inst)
}
