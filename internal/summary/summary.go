package summary

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/latencyguard/internal/models"
	"github.com/miradorstack/latencyguard/internal/store"
	"github.com/miradorstack/latencyguard/pkg/cache"
)

// recentLimit is how many of the latest anomalies a summary lists.
const recentLimit = 10

// EndpointStats aggregates one endpoint.
type EndpointStats struct {
	Endpoint  string  `json:"endpoint"`
	Requests  int     `json:"requests"`
	Errors    int     `json:"errors"`
	Anomalies int     `json:"anomalies"`
	MeanMs    float64 `json:"mean_ms"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
}

// HourlyCount is the number of anomalies whose timestamp falls in Hour.
type HourlyCount struct {
	Hour      time.Time `json:"hour"`
	Anomalies int       `json:"anomalies"`
}

// Summary holds the dashboard key performance indicators.
type Summary struct {
	GeneratedAt   time.Time             `json:"generated_at"`
	Endpoint      string                `json:"endpoint,omitempty"`
	TotalRequests int                   `json:"total_requests"`
	ErrorRequests int                   `json:"error_requests"`
	Anomalies     int                   `json:"anomalies"`
	MeanMs        float64               `json:"mean_latency_ms"`
	MedianMs      float64               `json:"median_latency_ms"`
	MaxMs         float64               `json:"max_latency_ms"`
	P95Ms         float64               `json:"p95_latency_ms"`
	Endpoints     []EndpointStats       `json:"endpoints"`
	Hourly        []HourlyCount         `json:"hourly_anomalies"`
	Recent        []models.ScoredRecord `json:"-"`
}

// Build computes a summary over labeled records. Latency statistics only consider
// records with a usable latency.
func Build(records []models.ScoredRecord, at time.Time) Summary {
	out := Summary{GeneratedAt: at.UTC(), TotalRequests: len(records)}

	var (
		latencies []float64
		perEP     = map[string]*endpointAgg{}
		hourly    = map[time.Time]int{}
		anomalies []models.ScoredRecord
	)
	for _, r := range records {
		agg, ok := perEP[r.Endpoint]
		if !ok {
			agg = &endpointAgg{min: math.Inf(1), max: math.Inf(-1)}
			perEP[r.Endpoint] = agg
		}
		agg.requests++

		v, usable := r.Latency()
		if !usable {
			out.ErrorRequests++
			agg.errors++
		} else {
			latencies = append(latencies, v)
			agg.sum += v
			agg.n++
			agg.min = math.Min(agg.min, v)
			agg.max = math.Max(agg.max, v)
		}
		if r.IsAnomaly() {
			out.Anomalies++
			agg.anomalies++
			hourly[r.Timestamp.UTC().Truncate(time.Hour)]++
			anomalies = append(anomalies, r)
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		sum := 0.0
		for _, v := range latencies {
			sum += v
		}
		out.MeanMs = round2(sum / float64(len(latencies)))
		out.MedianMs = round2(quantile(latencies, 0.5))
		out.P95Ms = round2(quantile(latencies, 0.95))
		out.MaxMs = latencies[len(latencies)-1]
	}

	out.Endpoints = make([]EndpointStats, 0, len(perEP))
	for ep, agg := range perEP {
		stats := EndpointStats{Endpoint: ep, Requests: agg.requests, Errors: agg.errors, Anomalies: agg.anomalies}
		if agg.n > 0 {
			stats.MeanMs = round2(agg.sum / float64(agg.n))
			stats.MinMs = agg.min
			stats.MaxMs = agg.max
		}
		out.Endpoints = append(out.Endpoints, stats)
	}
	sort.Slice(out.Endpoints, func(i, j int) bool { return out.Endpoints[i].Endpoint < out.Endpoints[j].Endpoint })

	out.Hourly = make([]HourlyCount, 0, len(hourly))
	for hour, n := range hourly {
		out.Hourly = append(out.Hourly, HourlyCount{Hour: hour, Anomalies: n})
	}
	sort.Slice(out.Hourly, func(i, j int) bool { return out.Hourly[i].Hour.Before(out.Hourly[j].Hour) })

	sort.SliceStable(anomalies, func(i, j int) bool { return anomalies[i].Timestamp.After(anomalies[j].Timestamp) })
	if len(anomalies) > recentLimit {
		anomalies = anomalies[:recentLimit]
	}
	out.Recent = anomalies
	return out
}

type endpointAgg struct {
	requests  int
	errors    int
	anomalies int
	n         int
	sum       float64
	min       float64
	max       float64
}

// quantile interpolates linearly between closest ranks of sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RecordSource lists labeled records.
type RecordSource interface {
	ListRecords(ctx context.Context, q store.RecordQuery) ([]models.ScoredRecord, error)
}

// Service builds summaries from the latest labeled output, caching them briefly.
type Service struct {
	source RecordSource
	cache  *cache.TTL[Summary]
	clock  clock.Clock
	logger *slog.Logger
}

// NewService constructs a summary service with the given cache lifetime.
func NewService(source RecordSource, ttl time.Duration, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache.NewTTL[Summary](ttl, clk), clock: clk, logger: logger}
}

// Summary returns KPIs for endpoint, or for every endpoint when it is empty.
func (s *Service) Summary(ctx context.Context, endpoint string) (Summary, error) {
	if cached, ok := s.cache.Get(endpoint); ok {
		return cached, nil
	}
	records, err := s.source.ListRecords(ctx, store.RecordQuery{Endpoint: endpoint})
	if err != nil {
		return Summary{}, err
	}
	sum := Build(records, s.clock.Now())
	sum.Endpoint = endpoint
	s.cache.Set(endpoint, sum)
	s.logger.Debug("summary rebuilt", slog.String("endpoint", endpoint), slog.Int("records", len(records)))
	return sum, nil
}

// Invalidate drops cached summaries, typically after a cycle persisted new output.
func (s *Service) Invalidate() {
	s.cache.Purge()
}
