package channels

import (
	"time"

	"github.com/miradorstack/latencyguard/internal/dispatch"
)

// anomalyPayload is the wire form of one digest line for structured sinks.
type anomalyPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
	Status    string    `json:"status"`
	LatencyMs *float64  `json:"latency_ms,omitempty"`
	Score     float64   `json:"anomaly_score"`
}

// digestPayload is published to message brokers.
type digestPayload struct {
	Title       string           `json:"title"`
	GeneratedAt time.Time        `json:"generated_at"`
	Anomalies   []anomalyPayload `json:"anomalies"`
	Text        string           `json:"text"`
}

func newDigestPayload(d dispatch.Digest) digestPayload {
	out := digestPayload{
		Title:       d.Title,
		GeneratedAt: d.GeneratedAt.UTC(),
		Anomalies:   make([]anomalyPayload, 0, len(d.Records)),
		Text:        d.Text(),
	}
	for _, r := range d.Records {
		out.Anomalies = append(out.Anomalies, anomalyPayload{
			Timestamp: r.Timestamp.UTC(),
			Endpoint:  r.Endpoint,
			Status:    string(r.Status),
			LatencyMs: r.LatencyMs,
			Score:     r.Score,
		})
	}
	return out
}
