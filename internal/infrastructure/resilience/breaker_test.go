package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func run(b *Breaker, ok bool) error      { return b.Execute(func() error { return result(ok) }) }
func result(ok bool) error {
	if ok {
		return nil
	}
	return errUpstream
}

func newTestBreaker(settings Settings) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	b := New("test", settings)
	b.now = c.now
	b.expiry = c.now().Add(b.settings.Interval)
	return b, c
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		requests []bool
		want     State
	}{
		{"stays closed on successes", []bool{true, true, true}, StateClosed},
		{"opens after consecutive failures", []bool{false, false, false}, StateOpen},
		{"success resets the streak", []bool{false, false, true, false, false}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(Settings{ReadyToTrip: tripAfter(3)})
			for _, ok := range tt.requests {
				_ = run(b, ok)
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newTestBreaker(Settings{})

	require.NoError(t, run(b, true))
	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, run(b, false), errUpstream)
	counts = b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	b, c := newTestBreaker(Settings{Interval: time.Second, ReadyToTrip: tripAfter(2)})

	_ = run(b, false)
	c.advance(2 * time.Second)
	_ = run(b, false)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestBreakerOpenFailsFast(t *testing.T) {
	b, _ := newTestBreaker(Settings{ReadyToTrip: tripAfter(2)})
	_ = run(b, false)
	_ = run(b, false)

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerHalfOpen(t *testing.T) {
	b, c := newTestBreaker(Settings{MaxRequests: 2, Timeout: time.Second, ReadyToTrip: tripAfter(2)})
	_ = run(b, false)
	_ = run(b, false)
	require.Equal(t, StateOpen, b.State())

	c.advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, run(b, true))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, run(b, true))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1)})
	_ = run(b, false)
	c.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	_ = run(b, false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresClassifiedErrors(t *testing.T) {
	errCaller := errors.New("bad request")
	b, _ := newTestBreaker(Settings{
		ReadyToTrip: tripAfter(1),
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errCaller) },
	})

	err := b.Execute(func() error { return errCaller })
	assert.ErrorIs(t, err, errCaller)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	b, c := newTestBreaker(Settings{
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = run(b, false)
	_ = run(b, false)
	c.advance(2 * time.Second)
	_ = b.State()
	_ = run(b, true)

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{ReadyToTrip: tripAfter(1)})
	assert.Panics(t, func() {
		_ = b.Execute(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestGroup(t *testing.T) {
	g := NewGroup("relay", Settings{ReadyToTrip: tripAfter(1)})

	assert.Same(t, g.Get("a.example.com"), g.Get("a.example.com"))
	assert.Equal(t, "relay:a.example.com", g.Get("a.example.com").Name())

	_ = g.Execute("b.example.com", func() error { return errUpstream })
	require.NoError(t, g.Execute("a.example.com", func() error { return nil }))

	assert.Equal(t, []string{"b.example.com"}, g.Open())
	assert.Equal(t, map[string]State{
		"a.example.com": StateClosed,
		"b.example.com": StateOpen,
	}, g.States())
}
