package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Relay metrics
	RelayFetches     *prometheus.CounterVec
	RelayDuration    *prometheus.HistogramVec
	PolicyViolations *prometheus.CounterVec

	// Registry metrics
	ScriptTransitions *prometheus.CounterVec
	ScriptsActive     prometheus.Gauge

	// Buffer metrics
	BufferFlushes   *prometheus.CounterVec
	BufferBatchSize prometheus.Histogram

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// WebSocket metrics
	StatusStreams prometheus.Gauge

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current values for the JSON health view
type Snapshot struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	RelayFetches     int64   `json:"relay_fetches"`
	PolicyViolations int64   `json:"policy_violations"`
	EventsFlushed    int64   `json:"events_flushed"`
	ActiveScripts    int64   `json:"active_scripts"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	UptimeSeconds    float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptkit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptkit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptkit_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		RelayFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptkit_relay_fetches_total",
				Help: "Upstream fetches by relay endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		RelayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptkit_relay_fetch_duration_seconds",
				Help:    "Upstream fetch duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		PolicyViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptkit_relay_policy_violations_total",
				Help: "Relay requests rejected by the security policy",
			},
			[]string{"endpoint", "reason"},
		),

		ScriptTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptkit_script_transitions_total",
				Help: "Script instance transitions by target status",
			},
			[]string{"status"},
		),
		ScriptsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptkit_scripts_active",
				Help: "Script instances held by the registry",
			},
		),

		BufferFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptkit_buffer_flushes_total",
				Help: "Event buffer flushes by outcome",
			},
			[]string{"outcome"},
		),
		BufferBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scriptkit_buffer_batch_size",
				Help:    "Events per flushed batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptkit_cache_lookups_total",
				Help: "Persisted cache lookups by result",
			},
			[]string{"result"},
		),

		StatusStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptkit_status_streams",
				Help: "Open status stream connections",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scriptkit_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the underlying prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordRelayFetch records an upstream fetch
func (m *Metrics) RecordRelayFetch(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RelayFetches.WithLabelValues(endpoint, outcome).Inc()
	m.RelayDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.RelayFetches++
	m.mu.Unlock()
}

// RecordPolicyViolation records a rejected relay request
func (m *Metrics) RecordPolicyViolation(endpoint, reason string) {
	if m == nil {
		return
	}
	m.PolicyViolations.WithLabelValues(endpoint, reason).Inc()

	m.mu.Lock()
	m.snapshot.PolicyViolations++
	m.mu.Unlock()
}

// RecordTransition records a script status transition
func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.ScriptTransitions.WithLabelValues(status).Inc()
}

// SetScriptsActive sets the number of registry instances
func (m *Metrics) SetScriptsActive(count int) {
	if m == nil {
		return
	}
	m.ScriptsActive.Set(float64(count))

	m.mu.Lock()
	m.snapshot.ActiveScripts = int64(count)
	m.mu.Unlock()
}

// RecordFlush records an event buffer flush
func (m *Metrics) RecordFlush(outcome string, size int) {
	if m == nil {
		return
	}
	m.BufferFlushes.WithLabelValues(outcome).Inc()
	m.BufferBatchSize.Observe(float64(size))

	if outcome == "success" {
		m.mu.Lock()
		m.snapshot.EventsFlushed += int64(size)
		m.mu.Unlock()
	}
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncStreams increments open status streams
func (m *Metrics) IncStreams() {
	if m == nil {
		return
	}
	m.StatusStreams.Inc()
}

// DecStreams decrements open status streams
func (m *Metrics) DecStreams() {
	if m == nil {
		return
	}
	m.StatusStreams.Dec()
}

// Snapshot returns current values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AvgLatencyMs = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
