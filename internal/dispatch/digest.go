package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/utils"
)

// DefaultTitle heads every digest unless the dispatcher is configured otherwise.
const DefaultTitle = "API Latency Anomalies Detected"

// Digest is the consolidated notification for one run's new anomalies.
type Digest struct {
	Title       string
	Lines       []string
	Records     []models.ScoredRecord
	GeneratedAt time.Time
}

// NewDigest formats records, which must already be in delivery order.
func NewDigest(title string, records []models.ScoredRecord, at time.Time) Digest {
	if title == "" {
		title = DefaultTitle
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, FormatLine(r))
	}
	return Digest{Title: title, Lines: lines, Records: records, GeneratedAt: at}
}

// FormatLine renders "timestamp | endpoint | latency ms | score".
func FormatLine(r models.ScoredRecord) string {
	latency := "n/a"
	if v, ok := r.Latency(); ok {
		latency = fmt.Sprintf("%.2f ms", v)
	}
	return fmt.Sprintf("%s | %s | %s | %.4f", utils.FormatTimestamp(r.Timestamp), r.Endpoint, latency, r.Score)
}

// Text renders the whole digest: the title followed by one line per anomaly.
func (d Digest) Text() string {
	return strings.Join(d.parts(), "\n")
}

// Pages splits the rendered text on line boundaries into chunks of at most maxBytes.
// A single line longer than maxBytes gets a page of its own rather than being cut.
// Joining the pages with "\n" reproduces Text exactly.
func (d Digest) Pages(maxBytes int) []string {
	parts := d.parts()
	if maxBytes <= 0 {
		return []string{strings.Join(parts, "\n")}
	}

	var (
		pages   []string
		current strings.Builder
	)
	for _, part := range parts {
		if current.Len() > 0 && current.Len()+1+len(part) > maxBytes {
			pages = append(pages, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(part)
	}
	if current.Len() > 0 || len(pages) == 0 {
		pages = append(pages, current.String())
	}
	return pages
}

// Identities returns the dedup identities of every record in the digest.
func (d Digest) Identities() []models.Identity {
	out := make([]models.Identity, 0, len(d.Records))
	for _, r := range d.Records {
		out = append(out, r.Identity())
	}
	return out
}

func (d Digest) parts() []string {
	parts := make([]string, 0, len(d.Lines)+1)
	parts = append(parts, d.Title)
	return append(parts, d.Lines...)
}

// NewAnomalies returns records labeled Anomaly whose identity is not in alerted, sorted
// by timestamp then endpoint. Duplicate identities within records are reported once.
func NewAnomalies(records []models.ScoredRecord, alerted map[string]struct{}) []models.ScoredRecord {
	seen := make(map[string]struct{})
	var out []models.ScoredRecord
	for _, r := range records {
		if !r.IsAnomaly() {
			continue
		}
		key := r.Identity().Key()
		if _, ok := alerted[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}
