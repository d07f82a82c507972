package models

import "time"

// Label classifies a scored record.
type Label string

const (
	LabelNormal  Label = "Normal"
	LabelAnomaly Label = "Anomaly"
	// LabelNotApplicable is carried by error rows passed through unscored.
	LabelNotApplicable Label = "N/A"
)

// ScoredRecord is the detector output for one observation.
type ScoredRecord struct {
	Observation
	Score float64
	Label Label
}

// IsAnomaly reports whether the record was labeled Anomaly.
func (r ScoredRecord) IsAnomaly() bool {
	return r.Label == LabelAnomaly
}

// RunSummary describes one persisted detector run.
type RunSummary struct {
	RunID        string
	StartedAt    time.Time
	HighWater    int64
	Observations int
	Fitted       int
	Anomalies    int
	Malformed    int
}
