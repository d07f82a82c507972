package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/miradorstack/latencyguard/internal/metrics"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// ErrNoValues is returned by Fit when there is nothing to fit.
var ErrNoValues = errors.New("no values to fit")

// Defaults mirror the batch model the service has always run with.
const (
	DefaultTrees         = 100
	DefaultSampleSize    = 256
	DefaultContamination = 0.05
	DefaultSeed          = 42
)

// neutralScore is assigned when no split is possible.
const neutralScore = 0.5

// Config controls forest fitting and labeling.
type Config struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
	Workers       int
}

func (c Config) withDefaults() Config {
	if c.Trees <= 0 {
		c.Trees = DefaultTrees
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.Contamination <= 0 {
		c.Contamination = DefaultContamination
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Result is the output of one detector run.
type Result struct {
	Records     []models.ScoredRecord
	Fitted      int
	Passthrough int
	Anomalies   int
}

// Detector fits a fresh isolation forest over the full history on every run.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Detector; zero-valued config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect scores every observation with a usable latency and labels the top
// ceil(q·N) scores Anomaly. Error rows are passed through with label N/A. Records are
// returned in input order.
func (d *Detector) Detect(ctx context.Context, observations []models.Observation) (Result, error) {
	records := make([]models.ScoredRecord, len(observations))
	fitIdx := make([]int, 0, len(observations))
	values := make([]float64, 0, len(observations))

	for i, obs := range observations {
		records[i] = models.ScoredRecord{Observation: obs, Label: models.LabelNotApplicable}
		if v, ok := obs.Latency(); ok {
			fitIdx = append(fitIdx, i)
			values = append(values, v)
		}
	}

	result := Result{
		Records:     records,
		Fitted:      len(values),
		Passthrough: len(observations) - len(values),
	}

	switch {
	case len(values) == 0:
		return result, utils.NewAppError("detect", "no fittable observations", utils.ErrInsufficientData)
	case len(values) < 2 || allEqual(values):
		for _, i := range fitIdx {
			records[i].Score = neutralScore
			records[i].Label = models.LabelNormal
		}
		d.logger.Debug("degenerate sample, labeling all normal", slog.Int("fitted", len(values)))
		return result, nil
	}

	start := time.Now()
	forest, err := Fit(ctx, values, d.cfg.Trees, d.cfg.SampleSize, d.cfg.Seed, d.cfg.Workers)
	if err != nil {
		return Result{}, fmt.Errorf("fit forest: %w", err)
	}
	scores, err := forest.ScoreAll(ctx, values, d.cfg.Workers)
	if err != nil {
		return Result{}, fmt.Errorf("score observations: %w", err)
	}
	metrics.ObserveForestFit(time.Since(start))

	for j, i := range fitIdx {
		records[i].Score = scores[j]
	}
	result.Anomalies = label(records, fitIdx, d.cfg.Contamination)

	d.logger.Debug("forest scored",
		slog.Int("trees", forest.Size()),
		slog.Int("sample_size", forest.SampleSize()),
		slog.Int("fitted", len(values)),
		slog.Int("anomalies", result.Anomalies),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// AnomalyCount is ceil(q·n), clamped to [0, n].
func AnomalyCount(q float64, n int) int {
	k := int(math.Ceil(q*float64(n) - 1e-9))
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

// label marks the top-k records Anomaly and the rest Normal. Ties on score go to the
// earlier timestamp, then to the earlier input position.
func label(records []models.ScoredRecord, idx []int, q float64) int {
	order := append([]int(nil), idx...)
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := records[order[a]], records[order[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		if !ra.Timestamp.Equal(rb.Timestamp) {
			return ra.Timestamp.Before(rb.Timestamp)
		}
		return order[a] < order[b]
	})

	k := AnomalyCount(q, len(order))
	for rank, i := range order {
		if rank < k {
			records[i].Label = models.LabelAnomaly
		} else {
			records[i].Label = models.LabelNormal
		}
	}
	return k
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
