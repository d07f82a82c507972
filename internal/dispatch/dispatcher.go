package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/latencyguard/internal/metrics"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// DefaultChannelTimeout bounds a single channel delivery.
const DefaultChannelTimeout = 8 * time.Second

// Channel delivers a digest to one notification sink.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, digest Digest) error
}

// StateStore persists the set of identities that have already been alerted.
type StateStore interface {
	AlertedIdentities(ctx context.Context) (map[string]struct{}, error)
	MarkAlerted(ctx context.Context, identities []models.Identity, at time.Time) error
}

// State is a step of the per-run dispatch state machine. A run ends in NoneFound,
// CommitState or RetryNextRun.
type State string

const (
	StateIdle                  State = "Idle"
	StateComputingNewAnomalies State = "ComputingNewAnomalies"
	StateNoneFound             State = "NoneFound"
	StateFound                 State = "Found"
	StateFormatting            State = "Formatting"
	StateDispatching           State = "Dispatching"
	StateCommitState           State = "CommitState"
	StateRetryNextRun          State = "RetryNextRun"
)

// ChannelResult is the outcome of one channel delivery.
type ChannelResult struct {
	Channel  string
	Err      error
	Duration time.Duration
}

// Outcome reports what a Dispatch call did.
type Outcome struct {
	State        State
	NewAnomalies int
	Committed    int
	Results      []ChannelResult
}

// Delivered returns the names of channels that accepted the digest.
func (o Outcome) Delivered() []string {
	var out []string
	for _, r := range o.Results {
		if r.Err == nil {
			out = append(out, r.Channel)
		}
	}
	return out
}

// Options tunes a Dispatcher.
type Options struct {
	Title          string
	ChannelTimeout time.Duration
	Clock          clock.Clock
}

// Dispatcher turns labeled records into at most one digest per run and records which
// identities were alerted.
type Dispatcher struct {
	state    StateStore
	channels []Channel
	opts     Options
	logger   *slog.Logger
}

// New constructs a Dispatcher over the given channels.
func New(state StateStore, channels []Channel, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = DefaultChannelTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Dispatcher{state: state, channels: channels, opts: opts, logger: logger}
}

// Channels returns the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dispatch alerts on anomalies not yet in the alert state. State is committed only when
// at least one channel accepted the digest; otherwise the same anomalies are retried on
// the next run. Store failures are returned wrapped in ErrStorePersistence.
func (d *Dispatcher) Dispatch(ctx context.Context, records []models.ScoredRecord) (Outcome, error) {
	out := Outcome{State: StateComputingNewAnomalies}

	alerted, err := d.state.AlertedIdentities(ctx)
	if err != nil {
		return out, asPersistence("read alert state", err)
	}
	fresh := NewAnomalies(records, alerted)
	out.NewAnomalies = len(fresh)
	if len(fresh) == 0 {
		out.State = StateNoneFound
		d.logger.Debug("no new anomalies")
		return out, nil
	}

	out.State = StateFormatting
	digest := NewDigest(d.opts.Title, fresh, d.opts.Clock.Now())

	if err := ctx.Err(); err != nil {
		out.State = StateRetryNextRun
		return out, err
	}

	out.State = StateDispatching
	out.Results = d.deliver(ctx, digest)
	if len(out.Delivered()) == 0 {
		out.State = StateRetryNextRun
		d.logger.Warn("no channel accepted the digest, retrying next run",
			slog.Int("new_anomalies", len(fresh)),
			slog.Int("channels", len(d.channels)),
		)
		return out, nil
	}

	if err := d.state.MarkAlerted(ctx, digest.Identities(), d.opts.Clock.Now()); err != nil {
		out.State = StateRetryNextRun
		return out, asPersistence("commit alert state", err)
	}
	out.State = StateCommitState
	out.Committed = len(fresh)
	metrics.AddNewAnomalies(len(fresh))

	d.logger.Info("anomaly digest delivered",
		slog.Int("new_anomalies", len(fresh)),
		slog.Any("channels", out.Delivered()),
	)
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, digest Digest) []ChannelResult {
	results := make([]ChannelResult, len(d.channels))

	var g errgroup.Group
	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, d.opts.ChannelTimeout)
			defer cancel()

			start := time.Now()
			err := ch.Deliver(cctx, digest)
			if err != nil {
				err = utils.DeliveryError(ch.Name(), err)
				d.logger.Warn("channel delivery failed",
					slog.String("channel", ch.Name()),
					slog.Any("error", err),
				)
			}
			metrics.ObserveDelivery(ch.Name(), err == nil)
			results[i] = ChannelResult{Channel: ch.Name(), Err: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func asPersistence(op string, err error) error {
	if errors.Is(err, utils.ErrStorePersistence) {
		return err
	}
	return utils.PersistenceError(op, err)
}
