package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/miradorstack/latencyguard/internal/engine"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/store"
	"github.com/miradorstack/latencyguard/internal/summary"
	"github.com/miradorstack/latencyguard/internal/utils"
)

const (
	requestTimeout = 30 * time.Second
	readyTimeout   = 2 * time.Second
)

// CycleRunner runs detection cycles on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (engine.CycleReport, error)
	Trigger() bool
}

// RecordReader reads labeled output from the store.
type RecordReader interface {
	ListRecords(ctx context.Context, q store.RecordQuery) ([]models.ScoredRecord, error)
	Ping(ctx context.Context) error
}

// SummaryProvider builds dashboard KPIs.
type SummaryProvider interface {
	Summary(ctx context.Context, endpoint string) (summary.Summary, error)
	Invalidate()
}

// HTTPDeps collects what the dashboard API needs. Gatherer defaults to the global
// Prometheus registry. AllowedOrigins enables CORS for browser dashboards.
type HTTPDeps struct {
	Cycles         CycleRunner
	Records        RecordReader
	Summaries      SummaryProvider
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *slog.Logger
}

type httpHandler struct {
	deps   HTTPDeps
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPHandler builds the dashboard router: the JSON API, health probes and metrics.
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &httpHandler{deps: deps, logger: logger}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	if deps.Records != nil {
		health.AddReadinessCheck("store", h.storeReady())
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/live", health.LiveEndpoint)
	r.Get("/ready", health.ReadyEndpoint)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/records", h.handleRecords)
		r.Get("/anomalies", h.handleAnomalies)
		r.Get("/summary", h.handleSummary)
		r.Post("/cycles", h.handleCycle)
	})

	if len(deps.AllowedOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (h *httpHandler) storeReady() healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		defer cancel()
		return h.deps.Records.Ping(ctx)
	}
}

func (h *httpHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	q, err := QueryFromValues(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	h.listRecords(w, r, q)
}

func (h *httpHandler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	q, err := QueryFromValues(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	q.Label = models.LabelAnomaly
	h.listRecords(w, r, q)
}

func (h *httpHandler) listRecords(w http.ResponseWriter, r *http.Request, q store.RecordQuery) {
	if h.deps.Records == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "record store not configured"})
		return
	}
	records, err := h.deps.Records.ListRecords(r.Context(), q)
	if err != nil {
		h.logger.Error("list records failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list records"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": ToRecordViews(records),
	})
}

type summaryResponse struct {
	summary.Summary
	Recent []RecordView `json:"recent_anomalies"`
}

func (h *httpHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if h.deps.Summaries == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "summary not configured"})
		return
	}
	sum, err := h.deps.Summaries.Summary(r.Context(), r.URL.Query().Get("endpoint"))
	if err != nil {
		h.logger.Error("build summary failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to build summary"})
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: sum, Recent: ToRecordViews(sum.Recent)})
}

func (h *httpHandler) handleCycle(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cycles == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "scheduler not configured"})
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		queued := h.deps.Cycles.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
		return
	}

	report, err := h.deps.Cycles.RunCycle(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrCycleInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	default:
		h.logger.Error("on-demand cycle failed", slog.String("run_id", report.RunID), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if h.deps.Summaries != nil {
		h.deps.Summaries.Invalidate()
	}
	writeJSON(w, http.StatusOK, ToCycleView(report))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
