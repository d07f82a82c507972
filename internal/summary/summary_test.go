package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/store"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func rec(offset time.Duration, endpoint string, latency float64, label models.Label) models.ScoredRecord {
	return models.ScoredRecord{
		Observation: models.Observation{
			Timestamp: base.Add(offset),
			Endpoint:  endpoint,
			Status:    "200",
			LatencyMs: models.Float64(latency),
		},
		Score: 0.5,
		Label: label,
	}
}

func fixture() []models.ScoredRecord {
	errRow := models.ScoredRecord{
		Observation: models.Observation{Timestamp: base.Add(5 * time.Minute), Endpoint: "/a", Status: models.StatusError, LatencyMs: models.Float64(-1)},
		Label:       models.LabelNotApplicable,
	}
	return []models.ScoredRecord{
		rec(0, "/a", 100, models.LabelNormal),
		rec(time.Minute, "/a", 200, models.LabelNormal),
		rec(30*time.Minute, "/a", 5000, models.LabelAnomaly),
		errRow,
		rec(2*time.Minute, "/b", 150, models.LabelNormal),
		rec(70*time.Minute, "/b", 300, models.LabelAnomaly),
	}
}

func TestBuildAggregates(t *testing.T) {
	sum := Build(fixture(), base.Add(2*time.Hour))

	assert.Equal(t, 6, sum.TotalRequests)
	assert.Equal(t, 1, sum.ErrorRequests)
	assert.Equal(t, 2, sum.Anomalies)
	assert.InDelta(t, 1150, sum.MeanMs, 1e-9)
	assert.InDelta(t, 200, sum.MedianMs, 1e-9)
	assert.InDelta(t, 4060, sum.P95Ms, 1e-9)
	assert.InDelta(t, 5000, sum.MaxMs, 1e-9)

	require.Len(t, sum.Endpoints, 2)
	a := sum.Endpoints[0]
	assert.Equal(t, "/a", a.Endpoint)
	assert.Equal(t, 4, a.Requests)
	assert.Equal(t, 1, a.Errors)
	assert.Equal(t, 1, a.Anomalies)
	assert.InDelta(t, 1766.67, a.MeanMs, 1e-9)
	assert.InDelta(t, 100, a.MinMs, 1e-9)
	assert.InDelta(t, 5000, a.MaxMs, 1e-9)

	b := sum.Endpoints[1]
	assert.Equal(t, "/b", b.Endpoint)
	assert.InDelta(t, 225, b.MeanMs, 1e-9)

	require.Len(t, sum.Hourly, 2)
	assert.Equal(t, base, sum.Hourly[0].Hour)
	assert.Equal(t, base.Add(time.Hour), sum.Hourly[1].Hour)
	assert.Equal(t, 1, sum.Hourly[0].Anomalies)

	require.Len(t, sum.Recent, 2)
	assert.Equal(t, "/b", sum.Recent[0].Endpoint)
	assert.Equal(t, "/a", sum.Recent[1].Endpoint)
}

func TestBuildEmpty(t *testing.T) {
	sum := Build(nil, base)
	assert.Zero(t, sum.TotalRequests)
	assert.Zero(t, sum.MeanMs)
	assert.Empty(t, sum.Endpoints)
	assert.Empty(t, sum.Hourly)
	assert.Empty(t, sum.Recent)
}

func TestBuildLimitsRecentAnomalies(t *testing.T) {
	var records []models.ScoredRecord
	for i := 0; i < 15; i++ {
		records = append(records, rec(time.Duration(i)*time.Minute, "/a", float64(100+i), models.LabelAnomaly))
	}
	sum := Build(records, base)
	require.Len(t, sum.Recent, recentLimit)
	assert.Equal(t, base.Add(14*time.Minute), sum.Recent[0].Timestamp)
}

type countingSource struct {
	calls   int
	last    store.RecordQuery
	records []models.ScoredRecord
	err     error
}

func (s *countingSource) ListRecords(_ context.Context, q store.RecordQuery) ([]models.ScoredRecord, error) {
	s.calls++
	s.last = q
	return s.records, s.err
}

func TestServiceCachesPerEndpoint(t *testing.T) {
	mock := clock.NewMock()
	src := &countingSource{records: fixture()}
	svc := NewService(src, 5*time.Second, mock, nil)

	first, err := svc.Summary(context.Background(), "")
	require.NoError(t, err)
	_, err = svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 6, first.TotalRequests)

	_, err = svc.Summary(context.Background(), "/b")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, "/b", src.last.Endpoint)

	mock.Add(6 * time.Second)
	_, err = svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)

	svc.Invalidate()
	_, err = svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, src.calls)
}

func TestServicePropagatesErrors(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	svc := NewService(src, time.Second, clock.NewMock(), nil)
	_, err := svc.Summary(context.Background(), "")
	require.Error(t, err)

	src.err = nil
	_, err = svc.Summary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
