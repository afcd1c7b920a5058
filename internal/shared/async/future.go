package async

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by Result when the future has not settled yet
var ErrPending = errors.New("future has not settled")

// Future is a one-shot value that settles with a value or an error
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture creates an unsettled future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already settled with v
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a future already settled with err
func Rejected[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. Reports whether this call settled it.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. Reports whether this call settled it.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = v, err
		settled = true
		close(f.done)
	})
	return settled
}

// Done is closed once the future settles
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value without blocking
func (f *Future[T]) Result() (T, error) {
	if !f.Settled() {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Await blocks until the future settles or ctx ends
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle runs fn once the future settles. fn is dropped if ctx ends first.
func (f *Future[T]) OnSettle(ctx context.Context, fn func(T, error)) {
	if f.Settled() {
		fn(f.value, f.err)
		return
	}
	go func() {
		select {
		case <-f.done:
			fn(f.value, f.err)
		case <-ctx.Done():
		}
	}()
}
