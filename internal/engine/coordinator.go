package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/miradorstack/latencyguard/internal/detector"
	"github.com/miradorstack/latencyguard/internal/dispatch"
	"github.com/miradorstack/latencyguard/internal/metrics"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/runlock"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// p95 of cycle latency is logged every this many cycles.
const latencyReportEvery = 20

// SampleStore is the slice of the sample store a cycle needs.
type SampleStore interface {
	HighWater(ctx context.Context) (int64, error)
	LoadObservations(ctx context.Context, upTo int64) ([]models.Observation, int, error)
	SaveRun(ctx context.Context, run models.RunSummary, records []models.ScoredRecord) error
}

// Detector scores a batch of observations.
type Detector interface {
	Detect(ctx context.Context, observations []models.Observation) (detector.Result, error)
}

// Dispatcher alerts on newly labeled anomalies.
type Dispatcher interface {
	Dispatch(ctx context.Context, records []models.ScoredRecord) (dispatch.Outcome, error)
}

// CycleStatus summarises how a cycle ended.
type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed"
	CycleSkipped   CycleStatus = "skipped"
	CycleBusy      CycleStatus = "busy"
	CycleFailed    CycleStatus = "failed"
)

// CycleReport describes one RunCycle invocation.
type CycleReport struct {
	models.RunSummary
	Status   CycleStatus
	Duration time.Duration
	Dispatch dispatch.Outcome
}

// Coordinator runs "snapshot, detect, persist, dispatch" under a run lock.
type Coordinator struct {
	logger     *slog.Logger
	store      SampleStore
	detector   Detector
	dispatcher Dispatcher
	locker     runlock.Locker
	clock      clock.Clock
	latency    *utils.LatencyTracker
	trigger    chan struct{}
}

// NewCoordinator wires a coordinator. A nil locker means a process-local lock; a nil
// clock means the wall clock.
func NewCoordinator(
	logger *slog.Logger,
	store SampleStore,
	det Detector,
	dispatcher Dispatcher,
	locker runlock.Locker,
	clk clock.Clock,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = runlock.NewLocal()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		logger:     logger,
		store:      store,
		detector:   det,
		dispatcher: dispatcher,
		locker:     locker,
		clock:      clk,
		latency:    utils.NewLatencyTracker(256),
		trigger:    make(chan struct{}, 1),
	}
}

// RunCycle executes one detection cycle. Insufficient data ends the cycle as skipped
// without an error; a held run lock returns ErrCycleInProgress.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{}
	lease, err := c.locker.TryAcquire(ctx)
	if err != nil {
		report.Status = CycleBusy
		if !errors.Is(err, utils.ErrCycleInProgress) {
			report.Status = CycleFailed
		}
		metrics.ObserveCycle(0, metrics.OutcomeSkipped)
		return report, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			c.logger.Warn("release run lock failed", slog.Any("error", rerr))
		}
	}()

	start := c.clock.Now()
	report.RunID = uuid.NewString()
	report.StartedAt = start
	logger := c.logger.With(slog.String("run_id", report.RunID))

	err = c.runStages(ctx, logger, &report)
	report.Duration = c.clock.Since(start)

	switch {
	case err == nil:
		report.Status = CycleCompleted
		metrics.ObserveCycle(report.Duration, metrics.OutcomeSuccess)
	case errors.Is(err, utils.ErrInsufficientData):
		report.Status = CycleSkipped
		metrics.ObserveCycle(report.Duration, metrics.OutcomeSkipped)
		logger.Info("cycle skipped: no fittable observations", slog.Int("observations", report.Observations))
		err = nil
	default:
		report.Status = CycleFailed
		metrics.ObserveCycle(report.Duration, metrics.OutcomeError)
	}

	c.observeLatency(report.Duration)
	return report, err
}

func (c *Coordinator) runStages(ctx context.Context, logger *slog.Logger, report *CycleReport) error {
	highWater, err := c.store.HighWater(ctx)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	report.HighWater = highWater
	if err := ctx.Err(); err != nil {
		return err
	}

	observations, malformed, err := c.store.LoadObservations(ctx, highWater)
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	report.Observations = len(observations)
	report.Malformed = malformed
	if malformed > 0 {
		logger.Warn("skipped malformed observations", slog.Int("count", malformed))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := c.detector.Detect(ctx, observations)
	if err != nil {
		return err
	}
	report.Fitted = result.Fitted
	report.Anomalies = result.Anomalies
	metrics.SetDetection(result.Fitted, result.Anomalies)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.store.SaveRun(ctx, report.RunSummary, result.Records); err != nil {
		return fmt.Errorf("persist scored records: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	outcome, err := c.dispatcher.Dispatch(ctx, result.Records)
	report.Dispatch = outcome
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	logger.Info("cycle complete",
		slog.Int64("high_water", highWater),
		slog.Int("observations", report.Observations),
		slog.Int("fitted", result.Fitted),
		slog.Int("anomalies", result.Anomalies),
		slog.Int("new_anomalies", outcome.NewAnomalies),
		slog.String("dispatch", string(outcome.State)),
	)
	return nil
}

func (c *Coordinator) observeLatency(d time.Duration) {
	c.latency.Observe(d)
	if c.latency.Total()%latencyReportEvery == 0 {
		c.logger.Info("cycle latency",
			slog.Int("cycles", c.latency.Total()),
			slog.Duration("p95", c.latency.Percentile(95)),
		)
	}
}

// Stats reports how many cycles ran and their p95 latency over the recent window.
func (c *Coordinator) Stats() (cycles int, p95 time.Duration) {
	return c.latency.Total(), c.latency.Percentile(95)
}

// Trigger requests an out-of-schedule cycle from Run. It reports false when a request
// is already pending.
func (c *Coordinator) Trigger() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a cycle immediately, then on every tick of interval and on every
// Trigger, until ctx ends.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	c.logger.Info("scheduler started", slog.Duration("interval", interval))
	c.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			c.runLogged(ctx)
		case <-c.trigger:
			c.runLogged(ctx)
		}
	}
}

func (c *Coordinator) runLogged(ctx context.Context) {
	report, err := c.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrCycleInProgress):
		c.logger.Debug("cycle already running, skipping tick")
	case errors.Is(err, context.Canceled):
	default:
		c.logger.Error("cycle failed",
			slog.String("run_id", report.RunID),
			slog.Any("error", err),
		)
	}
}
