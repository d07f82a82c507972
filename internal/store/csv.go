package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/utils"
)

var observationColumns = []string{"timestamp", "endpoint", "status", "latency_ms"}

// RecordColumns is the header of the labeled export, a superset of the collector log.
var RecordColumns = []string{"timestamp", "endpoint", "status", "latency_ms", "anomaly", "anomaly_score", "anomaly_label"}

// ImportResult summarises a CSV import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// ReadObservationsCSV decodes a collector log. The header row is optional; when present
// columns are matched by name. Rows that cannot be decoded are skipped and counted.
func ReadObservationsCSV(r io.Reader, logger *slog.Logger) ([]models.Observation, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	index := map[string]int{"timestamp": 0, "endpoint": 1, "status": 2, "latency_ms": 3}
	var (
		out     []models.Observation
		skipped int
		line    int
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				logger.Warn("skipping unreadable csv row", slog.Int("line", line), slog.Any("error", err))
				continue
			}
			return nil, skipped, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && isHeader(row) {
			index = headerIndex(row)
			continue
		}

		obs, err := decodeCSVRow(row, index)
		if err != nil {
			skipped++
			logger.Warn("skipping malformed csv row", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		out = append(out, obs)
	}
	return out, skipped, nil
}

// ImportCSV reads a collector log and appends every decodable row to the store.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (ImportResult, error) {
	observations, skipped, err := ReadObservationsCSV(r, s.logger)
	if err != nil {
		return ImportResult{Skipped: skipped}, err
	}
	n, err := s.Append(ctx, observations)
	if err != nil {
		return ImportResult{Skipped: skipped}, err
	}
	s.logger.Info("csv import complete", slog.Int("imported", n), slog.Int("skipped", skipped))
	return ImportResult{Imported: n, Skipped: skipped}, nil
}

// WriteRecordsCSV writes labeled records with the export header. The anomaly column
// carries -1 for anomalies and 1 for normal records, as the legacy dashboard expects.
func WriteRecordsCSV(w io.Writer, records []models.ScoredRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(RecordColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		latency := ""
		if r.LatencyMs != nil {
			latency = strconv.FormatFloat(*r.LatencyMs, 'f', -1, 64)
		}
		flag, score := "", ""
		switch r.Label {
		case models.LabelAnomaly:
			flag = "-1"
			score = strconv.FormatFloat(r.Score, 'f', 6, 64)
		case models.LabelNormal:
			flag = "1"
			score = strconv.FormatFloat(r.Score, 'f', 6, 64)
		}
		row := []string{utils.FormatTimestamp(r.Timestamp), r.Endpoint, string(r.Status), latency, flag, score, string(r.Label)}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportCSV writes the latest labeled output to w.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	records, err := s.ListRecords(ctx, RecordQuery{})
	if err != nil {
		return 0, err
	}
	if err := WriteRecordsCSV(w, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func isHeader(row []string) bool {
	for _, cell := range row {
		if strings.EqualFold(strings.TrimSpace(cell), "timestamp") {
			return true
		}
	}
	return false
}

func headerIndex(row []string) map[string]int {
	index := make(map[string]int, len(observationColumns))
	for i, cell := range row {
		name := strings.ToLower(strings.TrimSpace(cell))
		if name == "api_endpoint" {
			name = "endpoint"
		}
		index[name] = i
	}
	return index
}

func decodeCSVRow(row []string, index map[string]int) (models.Observation, error) {
	field := func(name string) (string, bool) {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	ts, ok := field("timestamp")
	if !ok {
		return models.Observation{}, fmt.Errorf("%w: missing timestamp", utils.ErrMalformedObservation)
	}
	t, err := utils.ParseTimestamp(ts)
	if err != nil {
		return models.Observation{}, fmt.Errorf("%w: %v", utils.ErrMalformedObservation, err)
	}
	endpoint, _ := field("endpoint")
	if endpoint == "" {
		return models.Observation{}, fmt.Errorf("%w: missing endpoint", utils.ErrMalformedObservation)
	}
	status, _ := field("status")
	if status == "" {
		return models.Observation{}, fmt.Errorf("%w: missing status", utils.ErrMalformedObservation)
	}

	obs := models.Observation{Timestamp: t, Endpoint: endpoint, Status: models.Status(strings.ToUpper(status))}
	if raw, _ := field("latency_ms"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Observation{}, fmt.Errorf("%w: latency %q", utils.ErrMalformedObservation, raw)
		}
		obs.LatencyMs = models.Float64(v)
	}
	return obs, nil
}
