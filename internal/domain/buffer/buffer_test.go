package buffer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
)

type recorder struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

func (r *recorder) Dispatch(_ context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return r.err
}

func (r *recorder) all() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Batch(nil), r.batches...)
}

func names(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name)
	}
	return out
}

func TestDebouncedBatch(t *testing.T) {
	rec := &recorder{}
	b := New(Config{Debounce: 30 * time.Millisecond}, rec)

	require.NoError(t, b.Enqueue("a", nil))
	require.NoError(t, b.Enqueue("b", map[string]interface{}{"n": 1}))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a", "b"}, names(batches[0].Events))
	assert.Equal(t, map[string]interface{}{}, batches[0].Events[0].Props)
	assert.Equal(t, 1, batches[0].Events[1].Props["n"])
	assert.Equal(t, uint64(1), batches[0].Seq)
	_, err := uuid.Parse(batches[0].ID)
	assert.NoError(t, err)
	assert.Zero(t, b.Len())
}

func TestDebounceResetsOnEnqueue(t *testing.T) {
	rec := &recorder{}
	b := New(Config{Debounce: 150 * time.Millisecond}, rec)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Enqueue("tick", nil))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Empty(t, rec.all())

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, rec.all()[0].Events, 4)
}

func TestFlushDuringDispatchKeepsEvents(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var batches []Batch
	d := DispatcherFunc(func(_ context.Context, batch Batch) error {
		mu.Lock()
		batches = append(batches, batch)
		first := len(batches) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	})
	b := New(Config{Debounce: time.Hour}, d)

	require.NoError(t, b.Enqueue("a", nil))
	done := make(chan error, 1)
	go func() { done <- b.Flush(context.Background()) }()
	<-started

	require.NoError(t, b.Enqueue("b", nil))
	require.NoError(t, b.Enqueue("c", nil))
	assert.Equal(t, 2, b.Len())

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, b.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a"}, names(batches[0].Events))
	assert.Equal(t, []string{"b", "c"}, names(batches[1].Events))
	assert.Equal(t, uint64(2), batches[1].Seq)
}

func TestMaxBatchFlushesEarly(t *testing.T) {
	rec := &recorder{}
	b := New(Config{Debounce: time.Hour, MaxBatch: 3}, rec)

	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, b.Enqueue(n, nil))
	}
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, names(rec.all()[0].Events))
}

func TestFailedDispatchIsNotRetried(t *testing.T) {
	rec := &recorder{err: errors.New("down")}
	metrics := monitoring.NewMetrics()
	b := New(Config{Debounce: time.Hour}, rec, WithMetrics(metrics))

	require.NoError(t, b.Enqueue("a", nil))
	assert.Error(t, b.Flush(context.Background()))
	assert.NoError(t, b.Flush(context.Background()))
	assert.Len(t, rec.all(), 1)
	assert.Zero(t, metrics.Snapshot().EventsFlushed)
}

func TestClose(t *testing.T) {
	rec := &recorder{}
	b := New(Config{Debounce: time.Hour}, rec)

	require.NoError(t, b.Enqueue("a", nil))
	require.NoError(t, b.Close(context.Background()))
	assert.ErrorIs(t, b.Enqueue("b", nil), ErrClosed)
	assert.NoError(t, b.Close(context.Background()))

	require.Len(t, rec.all(), 1)
	assert.Equal(t, []string{"a"}, names(rec.all()[0].Events))
}

func TestHTTPDispatcher(t *testing.T) {
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, sonic.Unmarshal(body, &got))
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig()
	cfg.AllowPrivate = true
	cfg.Retries = 0
	client := httpclient.New(cfg)

	batch := Batch{ID: "b-1", Seq: 1, Events: []Event{{Name: "pageview", Props: map[string]interface{}{"path": "/"}}}}
	require.NoError(t, NewHTTPDispatcher(srv.URL+"/collect", client).Dispatch(context.Background(), batch))
	assert.Equal(t, "b-1", got.ID)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "pageview", got.Events[0].Name)
	assert.Equal(t, "/", got.Events[0].Props["path"])

	err := NewHTTPDispatcher(srv.URL+"/fail", client).Dispatch(context.Background(), batch)
	assert.ErrorContains(t, err, "503")
}
