// Package config provides configuration models and helpers for report
// transfers.
//
// This file adds a lightweight linter/validator for TransferSpec values. It
// performs static checks over a decoded spec and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a TransferSpec.
//
// Path is a dotted path into the config (e.g. "report.format",
// "warehouse.db.dsn"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ValidateSpec performs static validation / linting of a TransferSpec.
//
// It does not mutate the spec. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
func ValidateSpec(s TransferSpec) []Issue {
	var issues []Issue

	issues = append(issues, validateReport(s.Report)...)
	issues = append(issues, validateDestination(s.Destination)...)
	issues = append(issues, validateWarehouse(s.Warehouse)...)
	issues = append(issues, validateRuntime(s.Runtime)...)

	return issues
}

// validateReport validates the source report settings.
func validateReport(r Report) []Issue {
	var issues []Issue

	if strings.TrimSpace(r.ID) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.id",
			Message:  "report.id must not be empty; it names the transfer in metrics, the catalog and the destination object",
		})
	}

	if strings.TrimSpace(r.URL) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.url",
			Message:  "report.url must not be empty",
		})
	} else if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.url",
			Message:  fmt.Sprintf("report.url %q is not an http(s) URL", r.URL),
		})
	}

	known := map[string]struct{}{
		"csv":        {},
		"report-csv": {},
		"markup":     {},
	}
	if strings.TrimSpace(r.Format) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.format",
			Message:  "report.format must not be empty",
		})
	} else if _, ok := known[r.Format]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.format",
			Message:  fmt.Sprintf("unknown report format %q; expected csv, report-csv or markup", r.Format),
		})
	}

	knownCharsets := map[string]struct{}{
		"": {}, "utf-8": {}, "utf8": {},
		"iso-8859-1": {}, "latin-1": {}, "latin1": {},
		"windows-1252": {}, "cp1252": {},
	}
	if _, ok := knownCharsets[strings.ToLower(r.Charset)]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.charset",
			Message:  fmt.Sprintf("unsupported charset %q", r.Charset),
		})
	}

	return issues
}

// validateDestination validates the object-store target.
func validateDestination(d Destination) []Issue {
	var issues []Issue

	if strings.TrimSpace(d.Endpoint) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destination.endpoint",
			Message:  "destination.endpoint must not be empty",
		})
	}
	if strings.TrimSpace(d.Bucket) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "destination.bucket",
			Message:  "destination.bucket must not be empty",
		})
	}
	if d.AccessKey == "" || d.SecretKey == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "destination.access_key",
			Message:  "no credentials configured; only anonymous-access stores will work",
		})
	}

	return issues
}

// validateWarehouse validates the optional warehouse load settings.
func validateWarehouse(w Warehouse) []Issue {
	var issues []Issue

	// Empty kind disables the warehouse load.
	if strings.TrimSpace(w.Kind) == "" {
		return nil
	}

	known := map[string]struct{}{
		"postgres": {},
	}
	if _, ok := known[w.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "warehouse.kind",
			Message:  fmt.Sprintf("unknown warehouse kind %q; ensure a matching backend is registered", w.Kind),
		})
	}

	if strings.TrimSpace(w.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.db.dsn",
			Message:  "warehouse.db.dsn must not be empty when a warehouse is configured",
		})
	}
	if w.DB.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "warehouse.db.batch_size",
			Message:  "batch_size must not be negative",
		})
	}

	return issues
}

// validateRuntime validates RuntimeConfig for obvious misconfigurations.
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.ChunkMultiplier < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.chunk_multiplier",
			Message:  "chunk_multiplier must not be negative",
		})
	}
	if r.ChunkMultiplier > 0 && r.ChunkMultiplier < 8 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.chunk_multiplier",
			Message: fmt.Sprintf("chunk_multiplier=%d gives parts under the store's 5 MiB multipart minimum at the margin; "+
				"small chunks also hurt throughput", r.ChunkMultiplier),
		})
	}
	if r.QueueDepth < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.queue_depth",
			Message:  "queue_depth must not be negative",
		})
	}
	if r.PartRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.part_retries",
			Message:  "part_retries must not be negative",
		})
	}

	return issues
}
