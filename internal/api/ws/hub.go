package ws

import (
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/registry"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
)

// Message is one frame sent to status stream clients
type Message struct {
	Type    string         `json:"type"`
	Key     string         `json:"key,omitempty"`
	From    string         `json:"from,omitempty"`
	To      string         `json:"to,omitempty"`
	Error   string         `json:"error,omitempty"`
	At      int64          `json:"at,omitempty"`
	Removed bool           `json:"removed,omitempty"`
	Message string         `json:"message,omitempty"`
	Scripts []ScriptStatus `json:"scripts,omitempty"`
}

// ScriptStatus is the last known status of one key
type ScriptStatus struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	At     int64  `json:"at"`
}

const sendBuffer = 64

type client struct {
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans registry transitions out to stream clients and remembers the
// last status of every live key
type Hub struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	clients    map[*client]struct{}
	last       map[string]ScriptStatus
	registries map[*registry.Registry]func()
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger.Named("status-stream"),
		metrics:    metrics,
		clients:    make(map[*client]struct{}),
		last:       make(map[string]ScriptStatus),
		registries: make(map[*registry.Registry]func()),
	}
}

// Track publishes every transition of reg until the returned func is called
func (h *Hub) Track(reg *registry.Registry) (untrack func()) {
	cancel := reg.Subscribe(h.Publish)

	h.mu.Lock()
	h.registries[reg] = cancel
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			keys := reg.Keys()

			h.mu.Lock()
			delete(h.registries, reg)
			others := make([]*registry.Registry, 0, len(h.registries))
			for other := range h.registries {
				others = append(others, other)
			}
			h.mu.Unlock()

			h.forget(keys, others)
			h.metrics.SetScriptsActive(h.Active())
		})
	}
}

// forget drops the last status of keys no remaining registry holds
func (h *Hub) forget(keys []string, others []*registry.Registry) {
	stale := keys[:0]
	for _, key := range keys {
		held := false
		for _, reg := range others {
			if reg.Has(key) {
				held = true
				break
			}
		}
		if !held {
			stale = append(stale, key)
		}
	}

	h.mu.Lock()
	for _, key := range stale {
		delete(h.last, key)
	}
	h.mu.Unlock()
}

// Active counts live instances across tracked registries
func (h *Hub) Active() int {
	h.mu.Lock()
	regs := make([]*registry.Registry, 0, len(h.registries))
	for reg := range h.registries {
		regs = append(regs, reg)
	}
	h.mu.Unlock()

	n := 0
	for _, reg := range regs {
		n += len(reg.Keys())
	}
	return n
}

// Publish records t and sends it to every client
func (h *Hub) Publish(t registry.Transition) {
	msg := Message{
		Type:    "transition",
		Key:     t.Key,
		From:    t.From.String(),
		To:      t.To.String(),
		At:      t.At.UnixMilli(),
		Removed: t.Removed,
	}
	if t.Err != nil {
		msg.Error = t.Err.Error()
	}

	h.metrics.RecordTransition(msg.To)

	data, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode transition", zap.String("key", t.Key), zap.Error(err))
		return
	}

	h.mu.Lock()
	if t.Removed {
		delete(h.last, t.Key)
	} else {
		h.last[t.Key] = ScriptStatus{Key: t.Key, Status: msg.To, Error: msg.Error, At: msg.At}
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow reader
			delete(h.clients, c)
			c.close()
			h.logger.Warn("dropped slow status stream client")
		}
	}
	h.mu.Unlock()

	h.metrics.SetScriptsActive(h.Active())
}

// Statuses returns the last known status per key, sorted by key
func (h *Hub) Statuses() []ScriptStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ScriptStatus, 0, len(h.last))
	for _, s := range h.last {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncStreams()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	h.metrics.DecStreams()
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
