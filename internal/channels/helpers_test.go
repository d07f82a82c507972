package channels

import (
	"net/http"
	"time"

	"github.com/miradorstack/latencyguard/internal/dispatch"
	"github.com/miradorstack/latencyguard/internal/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

var generatedAt = time.Date(2025, 11, 20, 15, 0, 0, 0, time.UTC)

func testDigest(n int) dispatch.Digest {
	records := make([]models.ScoredRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.ScoredRecord{
			Observation: models.Observation{
				Timestamp: generatedAt.Add(time.Duration(i) * time.Second),
				Endpoint:  "http://127.0.0.1:5001/slow",
				Status:    "200",
				LatencyMs: models.Float64(2000 + float64(i)),
			},
			Score: 0.75,
			Label: models.LabelAnomaly,
		})
	}
	return dispatch.NewDigest("", records, generatedAt)
}
