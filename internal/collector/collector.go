package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/latencyguard/internal/metrics"
	"github.com/miradorstack/latencyguard/internal/models"
)

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 5 * time.Second

// Appender receives probe results.
type Appender interface {
	Append(ctx context.Context, observations []models.Observation) (int, error)
}

// Collector probes HTTP endpoints and appends one observation per probe.
type Collector struct {
	endpoints  []string
	sink       Appender
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// New constructs a collector. A nil clock means the wall clock.
func New(endpoints []string, sink Appender, timeout time.Duration, clk clock.Clock, logger *slog.Logger) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		endpoints:  endpoints,
		sink:       sink,
		httpClient: &http.Client{Timeout: timeout},
		clock:      clk,
		logger:     logger,
	}
}

// Probe issues a GET against endpoint. Transport failures are recorded with status
// ERROR and the -1 latency sentinel; any HTTP response records its status code.
func (c *Collector) Probe(ctx context.Context, endpoint string) models.Observation {
	start := c.clock.Now()
	obs := models.Observation{Timestamp: start.UTC(), Endpoint: endpoint}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err == nil {
		var resp *http.Response
		resp, err = c.httpClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			elapsed := c.clock.Since(start)
			obs.Status = models.Status(strconv.Itoa(resp.StatusCode))
			obs.LatencyMs = models.Float64(roundMillis(elapsed))
			metrics.ObserveProbe(endpoint, *obs.LatencyMs)
			return obs
		}
	}

	c.logger.Debug("probe failed", slog.String("endpoint", endpoint), slog.Any("error", err))
	obs.Status = models.StatusError
	obs.LatencyMs = models.Float64(models.ErrorLatencySentinel)
	return obs
}

// CollectOnce probes every endpoint concurrently and appends the results in endpoint
// order.
func (c *Collector) CollectOnce(ctx context.Context) ([]models.Observation, error) {
	results := make([]models.Observation, len(c.endpoints))
	var g errgroup.Group
	for i, ep := range c.endpoints {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = c.Probe(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.sink.Append(ctx, results); err != nil {
		return nil, fmt.Errorf("append probes: %w", err)
	}
	for _, obs := range results {
		latency := "n/a"
		if v, ok := obs.Latency(); ok {
			latency = strconv.FormatFloat(v, 'f', 2, 64)
		}
		c.logger.Debug("probe",
			slog.String("endpoint", obs.Endpoint),
			slog.String("status", string(obs.Status)),
			slog.String("latency_ms", latency),
		)
	}
	return results, nil
}

// Run collects immediately and then on every interval until ctx ends.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	c.logger.Info("collector started", slog.Int("endpoints", len(c.endpoints)), slog.Duration("interval", interval))
	for {
		if _, err := c.CollectOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("collect failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
