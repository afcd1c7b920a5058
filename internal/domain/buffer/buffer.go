package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
)

// ErrClosed rejects events enqueued after Close
var ErrClosed = errors.New("buffer closed")

// Event is one proxied analytics event
type Event struct {
	Name      string                 `json:"name"`
	Props     map[string]interface{} `json:"props"`
	Timestamp int64                  `json:"ts"`
}

// Batch is the unit handed to a Dispatcher: every event collected during one
// debounce window
type Batch struct {
	ID        string  `json:"id"`
	Seq       uint64  `json:"seq"`
	Events    []Event `json:"events"`
	Timestamp int64   `json:"timestamp"`
}

// Dispatcher delivers batches
type Dispatcher interface {
	Dispatch(ctx context.Context, batch Batch) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, batch Batch) error

// Dispatch calls f
func (f DispatcherFunc) Dispatch(ctx context.Context, batch Batch) error { return f(ctx, batch) }

// Config controls batching
type Config struct {
	// Debounce is the quiet period after the last Enqueue before a flush
	Debounce time.Duration
	// MaxBatch flushes early once this many events are queued; 0 disables
	MaxBatch int
	// Timeout bounds a dispatch started by the timer
	Timeout time.Duration
}

// DefaultConfig returns the default batching settings
func DefaultConfig() Config {
	return Config{
		Debounce: 300 * time.Millisecond,
		MaxBatch: 500,
		Timeout:  10 * time.Second,
	}
}

// Buffer debounces events into batches
type Buffer struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	now        func() time.Time

	mu     sync.Mutex
	queue  []Event
	timer  *time.Timer
	closed bool

	// dispatchMu serializes flushes so batches leave in order
	dispatchMu sync.Mutex
	seq        uint64
}

// Option configures a Buffer
type Option func(*Buffer)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Buffer) { b.logger = l }
}

// WithMetrics records flushes
func WithMetrics(m *monitoring.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// New creates a buffer that hands batches to dispatcher
func New(cfg Config, dispatcher Dispatcher, opts ...Option) *Buffer {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	b := &Buffer{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("buffer")
	return b
}

// Enqueue appends an event and restarts the debounce timer
func (b *Buffer) Enqueue(name string, props map[string]interface{}) error {
	if props == nil {
		props = map[string]interface{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, Event{Name: name, Props: props, Timestamp: b.now().UnixMilli()})
	full := b.cfg.MaxBatch > 0 && len(b.queue) >= b.cfg.MaxBatch
	if b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.Debounce, b.fire)
	} else {
		b.timer.Reset(b.cfg.Debounce)
	}
	b.mu.Unlock()

	if full {
		go b.fire()
	}
	return nil
}

// Len returns the number of queued events
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Buffer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("Event batch dropped", zap.Error(err))
	}
}

// Flush dispatches every queued event as one batch. Events are removed from
// the queue before dispatch and are not retried if it fails.
func (b *Buffer) Flush(ctx context.Context) error {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()
	events := b.queue
	b.queue = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	b.seq++
	batch := Batch{
		ID:        newBatchID(),
		Seq:       b.seq,
		Events:    events,
		Timestamp: b.now().UnixMilli(),
	}

	err := b.dispatcher.Dispatch(ctx, batch)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	b.metrics.RecordFlush(outcome, len(events))

	if err != nil {
		b.logger.Error("Failed to dispatch batch",
			zap.String("batch_id", batch.ID),
			zap.Int("events", len(events)),
			zap.Error(err))
		return err
	}
	b.logger.Debug("Dispatched batch",
		zap.String("batch_id", batch.ID),
		zap.Uint64("seq", batch.Seq),
		zap.Int("events", len(events)))
	return nil
}

// Close stops accepting events and flushes what is queued
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.Flush(ctx)
}

func newBatchID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
