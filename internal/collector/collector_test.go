package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/latencyguard/internal/models"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]models.Observation
}

func (m *memorySink) Append(_ context.Context, obs []models.Observation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]models.Observation(nil), obs...))
	return len(obs), nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func probeTarget(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectOnceRecordsStatusAndLatency(t *testing.T) {
	srv := probeTarget(t)
	sink := &memorySink{}
	c := New([]string{srv.URL + "/ping", srv.URL + "/error", "http://127.0.0.1:1/unreachable"}, sink, time.Second, nil, nil)

	obs, err := c.CollectOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, models.Status("200"), obs[0].Status)
	v, ok := obs[0].Latency()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, v, 0.0)

	assert.Equal(t, models.Status("500"), obs[1].Status)

	assert.Equal(t, models.StatusError, obs[2].Status)
	require.NotNil(t, obs[2].LatencyMs)
	assert.Equal(t, -1.0, *obs[2].LatencyMs)
	_, ok = obs[2].Latency()
	assert.False(t, ok)

	require.Equal(t, 1, sink.count())
	assert.Len(t, sink.batches[0], 3)
}

func TestRoundMillis(t *testing.T) {
	assert.Equal(t, 12.35, roundMillis(12345678*time.Nanosecond))
	assert.Equal(t, 0.0, roundMillis(0))
}

func TestRunProbesOnEveryTick(t *testing.T) {
	srv := probeTarget(t)
	sink := &memorySink{}
	mock := clock.NewMock()
	c := New([]string{srv.URL + "/ping"}, sink, time.Second, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 3*time.Second) }()

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
}
