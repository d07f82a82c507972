package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/latencyguard/internal/engine"
	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/store"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// MaxListLimit caps how many records one list request may return.
const MaxListLimit = 10000

// RecordView is the external representation of a labeled record.
type RecordView struct {
	Timestamp    string   `json:"timestamp"`
	Endpoint     string   `json:"endpoint"`
	Status       string   `json:"status"`
	LatencyMs    *float64 `json:"latency_ms"`
	AnomalyScore *float64 `json:"anomaly_score"`
	AnomalyLabel string   `json:"anomaly_label"`
}

// ToRecordView converts a record. Error rows carry no latency or score.
func ToRecordView(r models.ScoredRecord) RecordView {
	view := RecordView{
		Timestamp:    utils.FormatTimestamp(r.Timestamp),
		Endpoint:     r.Endpoint,
		Status:       string(r.Status),
		AnomalyLabel: string(r.Label),
	}
	if v, ok := r.Latency(); ok {
		view.LatencyMs = &v
	}
	if r.Label != models.LabelNotApplicable {
		score := r.Score
		view.AnomalyScore = &score
	}
	return view
}

// ToRecordViews converts a slice of records, never returning nil.
func ToRecordViews(records []models.ScoredRecord) []RecordView {
	out := make([]RecordView, 0, len(records))
	for _, r := range records {
		out = append(out, ToRecordView(r))
	}
	return out
}

func (v RecordView) asMap() map[string]any {
	m := map[string]any{
		"timestamp":     v.Timestamp,
		"endpoint":      v.Endpoint,
		"status":        v.Status,
		"anomaly_label": v.AnomalyLabel,
		"latency_ms":    nil,
		"anomaly_score": nil,
	}
	if v.LatencyMs != nil {
		m["latency_ms"] = *v.LatencyMs
	}
	if v.AnomalyScore != nil {
		m["anomaly_score"] = *v.AnomalyScore
	}
	return m
}

// RecordsToStruct renders records as {"count": n, "records": [...]}.
func RecordsToStruct(records []models.ScoredRecord) (*structpb.Struct, error) {
	list := make([]any, 0, len(records))
	for _, r := range records {
		list = append(list, ToRecordView(r).asMap())
	}
	return structpb.NewStruct(map[string]any{
		"count":   len(records),
		"records": list,
	})
}

// CycleView is the external representation of a cycle report.
type CycleView struct {
	RunID        string   `json:"run_id"`
	Status       string   `json:"status"`
	StartedAt    string   `json:"started_at,omitempty"`
	DurationMs   float64  `json:"duration_ms"`
	HighWater    int64    `json:"high_water"`
	Observations int      `json:"observations"`
	Fitted       int      `json:"fitted"`
	Anomalies    int      `json:"anomalies"`
	Malformed    int      `json:"malformed"`
	Dispatch     string   `json:"dispatch,omitempty"`
	NewAnomalies int      `json:"new_anomalies"`
	Committed    int      `json:"committed"`
	Delivered    []string `json:"delivered"`
}

// ToCycleView converts a cycle report.
func ToCycleView(report engine.CycleReport) CycleView {
	view := CycleView{
		RunID:        report.RunID,
		Status:       string(report.Status),
		DurationMs:   float64(report.Duration) / float64(time.Millisecond),
		HighWater:    report.HighWater,
		Observations: report.Observations,
		Fitted:       report.Fitted,
		Anomalies:    report.Anomalies,
		Malformed:    report.Malformed,
		Dispatch:     string(report.Dispatch.State),
		NewAnomalies: report.Dispatch.NewAnomalies,
		Committed:    report.Dispatch.Committed,
		Delivered:    report.Dispatch.Delivered(),
	}
	if !report.StartedAt.IsZero() {
		view.StartedAt = utils.FormatTimestamp(report.StartedAt)
	}
	if view.Delivered == nil {
		view.Delivered = []string{}
	}
	return view
}

// CycleToStruct renders a cycle report.
func CycleToStruct(report engine.CycleReport) (*structpb.Struct, error) {
	view := ToCycleView(report)
	delivered := make([]any, 0, len(view.Delivered))
	for _, name := range view.Delivered {
		delivered = append(delivered, name)
	}
	return structpb.NewStruct(map[string]any{
		"run_id":        view.RunID,
		"status":        view.Status,
		"started_at":    view.StartedAt,
		"duration_ms":   view.DurationMs,
		"high_water":    view.HighWater,
		"observations":  view.Observations,
		"fitted":        view.Fitted,
		"anomalies":     view.Anomalies,
		"malformed":     view.Malformed,
		"dispatch":      view.Dispatch,
		"new_anomalies": view.NewAnomalies,
		"committed":     view.Committed,
		"delivered":     delivered,
	})
}

// QueryFromValues parses record filters from URL query parameters.
func QueryFromValues(values url.Values) (store.RecordQuery, error) {
	fields := map[string]string{}
	for _, key := range []string{"endpoint", "label", "since", "until", "limit"} {
		fields[key] = strings.TrimSpace(values.Get(key))
	}
	return parseQuery(fields)
}

// QueryFromStruct parses record filters from a Struct request. Numeric limits may be
// sent as numbers or strings.
func QueryFromStruct(req *structpb.Struct) (store.RecordQuery, error) {
	fields := map[string]string{}
	for key, value := range req.GetFields() {
		switch v := value.GetKind().(type) {
		case *structpb.Value_StringValue:
			fields[key] = strings.TrimSpace(v.StringValue)
		case *structpb.Value_NumberValue:
			fields[key] = strconv.FormatFloat(v.NumberValue, 'f', -1, 64)
		case *structpb.Value_NullValue:
		default:
			return store.RecordQuery{}, fmt.Errorf("field %q: unsupported value type", key)
		}
	}
	return parseQuery(fields)
}

func parseQuery(fields map[string]string) (store.RecordQuery, error) {
	q := store.RecordQuery{Endpoint: fields["endpoint"]}

	if label := fields["label"]; label != "" {
		switch models.Label(label) {
		case models.LabelAnomaly, models.LabelNormal, models.LabelNotApplicable:
			q.Label = models.Label(label)
		default:
			return q, fmt.Errorf("label must be one of Anomaly, Normal, N/A; got %q", label)
		}
	}
	if since := fields["since"]; since != "" {
		t, err := utils.ParseTimestamp(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = t
	}
	if until := fields["until"]; until != "" {
		t, err := utils.ParseTimestamp(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = t
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return q, fmt.Errorf("until must not precede since")
	}
	if limit := fields["limit"]; limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return q, fmt.Errorf("limit must be a non-negative integer, got %q", limit)
		}
		if n > MaxListLimit {
			n = MaxListLimit
		}
		q.Limit = n
	}
	return q, nil
}
