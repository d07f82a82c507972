package models

import (
	"math"
	"time"
)

// Status is the probe outcome: an HTTP status code rendered as text, or StatusError.
type Status string

// StatusError marks a probe that never produced an HTTP response.
const StatusError Status = "ERROR"

// ErrorLatencySentinel is the latency value collectors write for failed probes.
const ErrorLatencySentinel = -1.0

// Observation is one latency sample appended to the sample store.
type Observation struct {
	ID        int64
	Timestamp time.Time
	Endpoint  string
	Status    Status
	LatencyMs *float64
}

// Latency returns the usable latency of the observation. Error probes, absent values,
// negative sentinels and NaN all report ok=false.
func (o Observation) Latency() (float64, bool) {
	if o.Status == StatusError || o.LatencyMs == nil {
		return 0, false
	}
	v := *o.LatencyMs
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// Identity returns the dedup key for alerting on this observation.
func (o Observation) Identity() Identity {
	return Identity{Endpoint: o.Endpoint, Timestamp: o.Timestamp}
}

// Float64 returns a pointer to v, handy for building observations.
func Float64(v float64) *float64 {
	return &v
}

// Identity is (endpoint, timestamp).
type Identity struct {
	Endpoint  string
	Timestamp time.Time
}

// Key renders the identity in its canonical persisted form.
func (i Identity) Key() string {
	return i.Endpoint + "|" + i.Timestamp.UTC().Format(time.RFC3339Nano)
}
