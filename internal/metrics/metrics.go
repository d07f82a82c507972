package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that ran to completion.
	OutcomeSuccess = "success"
	// OutcomeSkipped labels cycles skipped for lack of data.
	OutcomeSkipped = "skipped"
	// OutcomeError labels cycles aborted by store or dependency failures.
	OutcomeError = "error"
)

const namespace = "latencyguard"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of detection cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Detection cycle latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	forestFitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forest_fit_seconds",
			Help:      "Time spent fitting and scoring the isolation forest.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	observationsScored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observations_scored",
			Help:      "Observations fitted and scored by the last cycle.",
		},
	)

	anomaliesLabeled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalies_labeled",
			Help:      "Observations labeled Anomaly by the last cycle.",
		},
	)

	newAnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_anomalies_total",
			Help:      "Anomalies committed to alert state after a successful delivery.",
		},
	)

	channelDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Digest delivery attempts per channel, partitioned by outcome.",
		},
		[]string{"channel", "outcome"},
	)

	malformedObservationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_observations_total",
			Help:      "Stored observations skipped because they could not be decoded.",
		},
	)

	probeLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_ms",
			Help:      "Latency of collector probes in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"endpoint"},
	)
)

// Register attaches latencyguard collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		forestFitSeconds,
		observationsScored,
		anomaliesLabeled,
		newAnomaliesTotal,
		channelDeliveriesTotal,
		malformedObservationsTotal,
		probeLatencyMs,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSkipped, OutcomeError:
	default:
		outcome = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveForestFit records how long fitting and scoring took.
func ObserveForestFit(duration time.Duration) {
	forestFitSeconds.Observe(duration.Seconds())
}

// SetDetection publishes the size of the last detector run.
func SetDetection(scored, anomalies int) {
	observationsScored.Set(float64(scored))
	anomaliesLabeled.Set(float64(anomalies))
}

// AddNewAnomalies counts anomalies committed to alert state.
func AddNewAnomalies(n int) {
	if n > 0 {
		newAnomaliesTotal.Add(float64(n))
	}
}

// ObserveDelivery records one channel delivery attempt.
func ObserveDelivery(channel string, ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	channelDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// AddMalformed counts skipped malformed observations.
func AddMalformed(n int) {
	if n > 0 {
		malformedObservationsTotal.Add(float64(n))
	}
}

// ObserveProbe records a successful probe latency.
func ObserveProbe(endpoint string, latencyMs float64) {
	probeLatencyMs.WithLabelValues(endpoint).Observe(latencyMs)
}
