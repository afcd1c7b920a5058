package async

import (
	"context"
	"sync"
)

// Any resolves true as soon as one input resolves true. It resolves false
// once every input has settled without a true value. Rejections count as
// false. Watchers stop when ctx ends; the result then stays pending.
func Any(ctx context.Context, fs ...*Future[bool]) *Future[bool] {
	out := NewFuture[bool]()
	if len(fs) == 0 {
		out.Resolve(false)
		return out
	}

	var (
		mu        sync.Mutex
		remaining = len(fs)
	)
	for _, f := range fs {
		go func(f *Future[bool]) {
			select {
			case <-f.Done():
			case <-out.Done():
				return
			case <-ctx.Done():
				return
			}
			v, err := f.Result()
			if err == nil && v {
				out.Resolve(true)
				return
			}
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				out.Resolve(false)
			}
		}(f)
	}
	return out
}

// Then waits for f and, when it resolves true, chains into next().
// A false or rejected f resolves the result false without calling next.
func Then(ctx context.Context, f *Future[bool], next func() *Future[bool]) *Future[bool] {
	out := NewFuture[bool]()
	go func() {
		v, err := f.Await(ctx)
		if err != nil || !v {
			if ctx.Err() == nil {
				out.Resolve(false)
			}
			return
		}
		n := next()
		nv, err := n.Await(ctx)
		if err != nil {
			if ctx.Err() == nil {
				out.Resolve(false)
			}
			return
		}
		out.Resolve(nv)
	}()
	return out
}

// FromSignal resolves true on the first true value received from ch.
// A closed channel resolves false.
func FromSignal(ctx context.Context, ch <-chan bool) *Future[bool] {
	out := NewFuture[bool]()
	go func() {
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					out.Resolve(false)
					return
				}
				if v {
					out.Resolve(true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
