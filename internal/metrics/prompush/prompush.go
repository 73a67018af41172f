// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// This package adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the transfer labels (report, step, status) onto Prometheus labels.
//   - Pushing collected metrics to a Prometheus Pushgateway instance instead of
//     exposing an HTTP scrape endpoint, since a transfer is a batch job that
//     exits before any scraper would reach it.
//
// The package intentionally contains all Prometheus-specific dependencies so
// that the rest of the project remains decoupled from Prometheus and can swap
// to alternative backends (e.g. Datadog, StatsD) without changes to the engine.
package prompush

import (
	"fmt"

	"github.com/google/report2bq/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	// Step-level metrics
	stepCounter  *prometheus.CounterVec // "report2bq_step_total"
	stepDuration *prometheus.SummaryVec // "report2bq_step_duration_seconds"

	// Byte- and part-level metrics
	byteCounter *prometheus.CounterVec // "report2bq_bytes_total"
	partCounter prometheus.Counter     // "report2bq_parts_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (usually the report identifier).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "report2bq"
	}

	reg := prometheus.NewRegistry()

	// report, step, status are dynamic labels; the report identifier doubles
	// as the Pushgateway "job" grouping key, so it is not a collector label.
	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report2bq_step_total",
			Help: "Total number of transfer step executions, partitioned by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "report2bq_step_duration_seconds",
			Help:       "Duration of transfer steps in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)

	// BYTE metrics: kind (downloaded, committed, trimmed, ...).
	byteCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report2bq_bytes_total",
			Help: "Byte-level counts per kind (downloaded, committed, trimmed, etc.).",
		},
		[]string{"kind"},
	)

	// PART metrics: simple counter per report (report is the grouping label
	// via Pushgateway).
	partCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "report2bq_parts_total",
			Help: "Total number of upload parts committed for this transfer.",
		},
	)

	if err := reg.Register(stepCounter); err != nil {
		return nil, fmt.Errorf("prompush: register step counter: %w", err)
	}
	if err := reg.Register(stepDuration); err != nil {
		return nil, fmt.Errorf("prompush: register step summary: %w", err)
	}
	if err := reg.Register(byteCounter); err != nil {
		return nil, fmt.Errorf("prompush: register byte counter: %w", err)
	}
	if err := reg.Register(partCounter); err != nil {
		return nil, fmt.Errorf("prompush: register part counter: %w", err)
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
		byteCounter:  byteCounter,
		partCounter:  partCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "report2bq_step_total":
		if b.stepCounter == nil {
			return
		}
		step := labels["step"]
		status := labels["status"]
		b.stepCounter.WithLabelValues(step, status).Add(delta)

	case "report2bq_bytes_total":
		if b.byteCounter == nil {
			return
		}
		kind := labels["kind"]
		b.byteCounter.WithLabelValues(kind).Add(delta)

	case "report2bq_parts_total":
		if b.partCounter == nil {
			return
		}
		b.partCounter.Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "report2bq_step_duration_seconds" || b.stepDuration == nil {
		return
	}
	step := labels["step"]
	status := labels["status"]
	b.stepDuration.WithLabelValues(step, status).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
