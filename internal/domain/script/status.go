package script

import (
	"fmt"
	"sync"
)

// Status is the lifecycle state of a script instance
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusError
)

var statusNames = [...]string{"idle", "loading", "loaded", "error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition happens without removal
func (s Status) Terminal() bool {
	return s == StatusLoaded || s == StatusError
}

// Mode selects how a host treats injected scripts
type Mode int

const (
	// ModeClient executes scripts
	ModeClient Mode = iota
	// ModeServer renders markup and never executes
	ModeServer
)

func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}
	return "client"
}

// StatusRef is an observable status cell
type StatusRef struct {
	mu    sync.RWMutex
	value Status
	next  uint64
	subs  map[uint64]func(Status)
}

// NewStatusRef creates a ref holding initial
func NewStatusRef(initial Status) *StatusRef {
	return &StatusRef{value: initial, subs: make(map[uint64]func(Status))}
}

// Get returns the current status
func (r *StatusRef) Get() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Set stores s and notifies subscribers when it changed
func (r *StatusRef) Set(s Status) bool {
	r.mu.Lock()
	if r.value == s {
		r.mu.Unlock()
		return false
	}
	r.value = s
	subs := make([]func(Status), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return true
}

// Subscribe registers fn for future changes
func (r *StatusRef) Subscribe(fn func(Status)) (cancel func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}
