// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from report transfers.
//
// The package is intentionally minimal and opinionated:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//   - It keeps concrete metric systems isolated in subpackages, so the rest
//     of the codebase depends only on this interface.
//
// The primary use case is instrumentation of the transfer stages (download,
// repair, upload, load) without coupling the engine to a specific metrics
// system such as Prometheus or Datadog.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
// It is intentionally generic so we can plug in Prometheus, Datadog, etc.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep is a convenience for the common pattern:
// measure latency + success/failure per transfer step.
//
// Typical steps are "download", "repair", "upload" and "load".
func RecordStep(report, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"report": report,
		"step":   step,
		"status": status,
	}

	backend.IncCounter("report2bq_step_total", 1, lbls)
	backend.ObserveHistogram("report2bq_step_duration_seconds", d.Seconds(), lbls)
}

// RecordBytes increments a byte-level counter for the given report and kind.
//
// Typical kinds mirror the transfer result fields, e.g.:
//   - "downloaded"
//   - "committed"
//   - "trimmed"
func RecordBytes(report, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("report2bq_bytes_total", float64(delta), Labels{
		"report": report,
		"kind":   kind,
	})
}

// RecordParts increments the uploaded-part counter for the given report.
func RecordParts(report string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("report2bq_parts_total", float64(delta), Labels{
		"report": report,
	})
}
