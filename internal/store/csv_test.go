package store

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/latencyguard/internal/models"
)

const collectorLog = `timestamp,endpoint,status,latency_ms
2025-11-20T14:03:11.512345,http://127.0.0.1:5001/ping,200,12.34
2025-11-20T14:03:14.601002,http://127.0.0.1:5001/slow,200,2311.9
2025-11-20T14:03:17.700000,http://127.0.0.1:5001/sometimes-error,ERROR,-1
2025-11-20T14:03:20.000000,http://127.0.0.1:5001/ping,ERROR,
garbage,http://127.0.0.1:5001/ping,200,11
2025-11-20T14:03:26.000000,http://127.0.0.1:5001/ping,200,fast
`

func TestReadObservationsCSV(t *testing.T) {
	obs, skipped, err := ReadObservationsCSV(strings.NewReader(collectorLog), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, obs, 4)

	assert.Equal(t, time.Date(2025, 11, 20, 14, 3, 11, 512345000, time.UTC), obs[0].Timestamp)
	assert.Equal(t, 12.34, *obs[0].LatencyMs)

	for _, o := range obs[2:] {
		_, ok := o.Latency()
		assert.False(t, ok, "ERROR rows carry no usable latency")
		assert.Equal(t, models.StatusError, o.Status)
	}
	assert.Nil(t, obs[3].LatencyMs)
}

func TestReadObservationsCSVWithoutHeader(t *testing.T) {
	input := "2025-11-20T14:03:11Z,/ping,200,10\n2025-11-20T14:03:12Z,/ping,200,11\n"
	obs, skipped, err := ReadObservationsCSV(strings.NewReader(input), nil)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Len(t, obs, 2)
}

func TestReadObservationsCSVReorderedHeader(t *testing.T) {
	input := "latency_ms,status,api_endpoint,timestamp\n42,200,/ping,2025-11-20 14:03:11\n"
	obs, _, err := ReadObservationsCSV(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "/ping", obs[0].Endpoint)
	assert.Equal(t, 42.0, *obs[0].LatencyMs)
}

func TestImportThenExportCSV(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.ImportCSV(ctx, strings.NewReader(collectorLog))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 4, Skipped: 2}, res)

	hw, err := s.HighWater(ctx)
	require.NoError(t, err)
	obs, _, err := s.LoadObservations(ctx, hw)
	require.NoError(t, err)

	records := []models.ScoredRecord{
		{Observation: obs[0], Score: 0.42, Label: models.LabelNormal},
		{Observation: obs[1], Score: 0.81, Label: models.LabelAnomaly},
		{Observation: obs[2], Label: models.LabelNotApplicable},
		{Observation: obs[3], Label: models.LabelNotApplicable},
	}
	require.NoError(t, s.SaveRun(ctx, models.RunSummary{RunID: "csv", StartedAt: time.Now()}, records))

	var buf bytes.Buffer
	n, err := s.ExportCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "timestamp,endpoint,status,latency_ms,anomaly,anomaly_score,anomaly_label", lines[0])
	assert.Equal(t, "2025-11-20T14:03:11.512345Z,http://127.0.0.1:5001/ping,200,12.34,1,0.420000,Normal", lines[1])
	assert.Equal(t, "2025-11-20T14:03:14.601002Z,http://127.0.0.1:5001/slow,200,2311.9,-1,0.810000,Anomaly", lines[2])
	assert.Equal(t, "2025-11-20T14:03:17.7Z,http://127.0.0.1:5001/sometimes-error,ERROR,-1,,,N/A", lines[3])
	assert.Equal(t, "2025-11-20T14:03:20Z,http://127.0.0.1:5001/ping,ERROR,,,,N/A", lines[4])
}
