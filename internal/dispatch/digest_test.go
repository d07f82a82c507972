package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/latencyguard/internal/models"
)

func TestFormatLine(t *testing.T) {
	r := record("/slow", 0, 2311.9, models.LabelAnomaly)
	r.Score = 0.81234
	assert.Equal(t, "2025-01-01T00:00:00Z | /slow | 2311.90 ms | 0.8123", FormatLine(r))
}

func TestDigestText(t *testing.T) {
	records := []models.ScoredRecord{record("ep1", 1, 10, models.LabelAnomaly), record("ep2", 2, 20, models.LabelAnomaly)}
	d := NewDigest("", records, t0)
	assert.Equal(t, DefaultTitle, d.Title)
	require.Len(t, d.Lines, 2)
	assert.Equal(t, DefaultTitle+"\n"+d.Lines[0]+"\n"+d.Lines[1], d.Text())
	assert.Len(t, d.Identities(), 2)
}

func TestDigestPagesSplitOnLineBoundaries(t *testing.T) {
	var records []models.ScoredRecord
	for i := 0; i < 40; i++ {
		records = append(records, record("/random-delay", i, float64(1000+i), models.LabelAnomaly))
	}
	d := NewDigest("Latency digest", records, t0)

	pages := d.Pages(300)
	require.Greater(t, len(pages), 1)
	for _, p := range pages {
		assert.LessOrEqual(t, len(p), 300)
		assert.False(t, strings.HasPrefix(p, "\n"))
	}
	assert.Equal(t, d.Text(), strings.Join(pages, "\n"), "paging must be lossless")
}

func TestDigestPagesOversizedLine(t *testing.T) {
	d := Digest{Title: "t", Lines: []string{strings.Repeat("x", 50), "short"}}
	pages := d.Pages(10)
	assert.Equal(t, []string{"t", strings.Repeat("x", 50), "short"}, pages)
	assert.Equal(t, []string{d.Text()}, d.Pages(0))
}

func TestNewAnomaliesOrderingAndDedup(t *testing.T) {
	alerted := map[string]struct{}{
		models.Identity{Endpoint: "ep1", Timestamp: t0.Add(100 * time.Second)}.Key(): {},
	}
	records := []models.ScoredRecord{
		record("ep3", 50, 10, models.LabelAnomaly),
		record("ep1", 100, 10, models.LabelAnomaly),
		record("ep2", 20, 10, models.LabelAnomaly),
		record("ep2", 20, 10, models.LabelAnomaly),
		record("ep1", 20, 10, models.LabelAnomaly),
		record("ep4", 1, 10, models.LabelNormal),
		{Observation: models.Observation{Timestamp: t0, Endpoint: "ep5", Status: models.StatusError}, Label: models.LabelNotApplicable},
	}
	got := NewAnomalies(records, alerted)
	require.Len(t, got, 3)
	assert.Equal(t, "ep1", got[0].Endpoint)
	assert.Equal(t, "ep2", got[1].Endpoint)
	assert.Equal(t, "ep3", got[2].Endpoint)
}
