package probetarget

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddress is where the probe target listens when none is configured.
const DefaultAddress = ":5001"

const (
	minSlowDelay = time.Second
	maxSlowDelay = 3 * time.Second
	errorRate    = 0.4
)

// Options tunes the probe target. Zero values use a time-seeded source and a real sleep.
type Options struct {
	Rand   *rand.Rand
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

type target struct {
	mu     sync.Mutex
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewHandler returns a toy service with a fast, a slow and a flaky endpoint, used to
// produce realistic latency samples for the collector.
func NewHandler(opts Options) http.Handler {
	t := &target{rng: opts.Rand, sleep: opts.Sleep, logger: opts.Logger}
	if t.rng == nil {
		t.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if t.sleep == nil {
		t.sleep = sleepContext
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ping", t.handlePing)
	r.Get("/slow", t.handleSlow)
	r.Get("/error", t.handleError)
	return r
}

func (t *target) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Fast response"})
}

func (t *target) handleSlow(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	delay := minSlowDelay + time.Duration(t.rng.Int63n(int64(maxSlowDelay-minSlowDelay)+1))
	t.mu.Unlock()

	if err := t.sleep(r.Context(), delay); err != nil {
		t.logger.Debug("slow request abandoned", slog.Any("error", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "delay": delay.Seconds()})
}

func (t *target) handleError(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	fail := t.rng.Float64() < errorRate
	t.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "Random failure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "Sometimes error"})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
