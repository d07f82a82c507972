package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/latencyguard/internal/api"
	"github.com/miradorstack/latencyguard/internal/engine"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/store"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// CycleRunner runs detection cycles and reports scheduler statistics.
type CycleRunner interface {
	RunCycle(ctx context.Context) (engine.CycleReport, error)
	Stats() (cycles int, p95 time.Duration)
}

// RunRepo reads labeled output and run history.
type RunRepo interface {
	ListRecords(ctx context.Context, q store.RecordQuery) ([]models.ScoredRecord, error)
	LatestRun(ctx context.Context) (*models.RunSummary, error)
	HighWater(ctx context.Context) (int64, error)
}

// LatencyGuardService implements the gRPC control API.
type LatencyGuardService struct {
	logger *slog.Logger
	cycles CycleRunner
	repo   RunRepo
}

var _ api.LatencyGuardServer = (*LatencyGuardService)(nil)

// NewLatencyGuardService constructs the control API facade.
func NewLatencyGuardService(logger *slog.Logger, cycles CycleRunner, repo RunRepo) *LatencyGuardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LatencyGuardService{logger: logger, cycles: cycles, repo: repo}
}

// RunCycle executes one detection cycle synchronously.
func (s *LatencyGuardService) RunCycle(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.cycles == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	report, err := s.cycles.RunCycle(ctx)
	if err != nil {
		s.logger.Warn("RunCycle failed", slog.String("run_id", report.RunID), slog.Any("error", err))
		return nil, toStatus(err)
	}
	out, err := api.CycleToStruct(report)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode report: %v", err)
	}
	return out, nil
}

// ListAnomalies returns records labeled Anomaly in the latest output.
func (s *LatencyGuardService) ListAnomalies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.repo == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	q, err := api.QueryFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	q.Label = models.LabelAnomaly

	records, err := s.repo.ListRecords(ctx, q)
	if err != nil {
		s.logger.Error("list anomalies failed", slog.Any("error", err))
		return nil, toStatus(err)
	}
	out, err := api.RecordsToStruct(records)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode records: %v", err)
	}
	return out, nil
}

// Status reports the latest persisted run and scheduler statistics.
func (s *LatencyGuardService) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	fields := map[string]any{}

	if s.cycles != nil {
		cycles, p95 := s.cycles.Stats()
		fields["cycles"] = cycles
		fields["cycle_p95_ms"] = float64(p95) / float64(time.Millisecond)
	}

	if s.repo != nil {
		hw, err := s.repo.HighWater(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		fields["high_water"] = hw

		run, err := s.repo.LatestRun(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		if run != nil {
			fields["latest_run"] = map[string]any{
				"run_id":       run.RunID,
				"started_at":   utils.FormatTimestamp(run.StartedAt),
				"high_water":   run.HighWater,
				"observations": run.Observations,
				"fitted":       run.Fitted,
				"anomalies":    run.Anomalies,
				"malformed":    run.Malformed,
			}
		}
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, utils.ErrCycleInProgress):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, utils.ErrStorePersistence):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
