package async

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/scriptkit/internal/shared/id"
)

type cleanup struct {
	fn      func()
	removed bool
}

// Scope owns a context and a stack of cleanups. Dispose cancels the context
// and runs cleanups in reverse registration order, exactly once.
type Scope struct {
	id     id.ScopeID
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool

	mu       sync.Mutex
	cleanups []*cleanup
	disposed bool
}

// NewScope creates a scope that is also disposed when parent ends
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{
		id:     id.NewScopeID(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.stop = context.AfterFunc(parent, s.Dispose)
	return s
}

// ID returns the scope identifier
func (s *Scope) ID() id.ScopeID {
	return s.id
}

// Context is cancelled when the scope is disposed
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Disposed reports whether Dispose has run
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// OnDispose registers fn to run at disposal and returns a function that
// unregisters it. On an already disposed scope fn runs immediately.
func (s *Scope) OnDispose(fn func()) (remove func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	c := &cleanup{fn: fn}
	s.cleanups = append(s.cleanups, c)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		c.removed = true
		for i, x := range s.cleanups {
			if x == c {
				s.cleanups = append(s.cleanups[:i], s.cleanups[i+1:]...)
				break
			}
		}
	}
}

// Child creates a scope disposed together with s
func (s *Scope) Child() *Scope {
	child := NewScope(s.ctx)
	remove := s.OnDispose(child.Dispose)
	child.OnDispose(remove)
	return child
}

// Dispose cancels the context and runs the cleanups
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
	s.cancel()
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		s.mu.Lock()
		removed := c.removed
		s.mu.Unlock()
		if !removed {
			c.fn()
		}
	}
}
