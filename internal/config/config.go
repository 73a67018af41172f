// Package config defines the canonical, JSON-serializable configuration model
// for report transfers. It is intentionally small, explicit, and dependency-
// free so that transfer specs can be loaded from disk (or other sources) and
// passed through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Field names in Go mirror the JSON structure used in transfer
//     spec files.
//  3. Minimalism: No third-party config libraries; decoding is performed by the
//     standard library, with a light Options helper for typed access.
//
// Example (trimmed):
//
//	{
//	  "report":      { "id": "dcm_123", "url": "https://...", "format": "report-csv" },
//	  "destination": { "bucket": "reports", "object": "dcm_123.csv" },
//	  "catalog":     { "path": "transfers.db" },
//	  "warehouse":   { "kind": "postgres", "db": { "dsn": "...", "table": "public.dcm_123" } }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DefaultChunkMultiplier scales the 1 MiB base chunk when the environment
// does not override it: 64 MiB chunks.
const DefaultChunkMultiplier = 64

// TransferSpec describes one report transfer in JSON. It is the top-level
// object decoded from a spec file.
type TransferSpec struct {
	// Report identifies the source report to move.
	Report Report `json:"report"`

	// Destination names the object-store target for the reassembled CSV.
	Destination Destination `json:"destination"`

	// Catalog optionally configures the transfer catalog recording results.
	Catalog Catalog `json:"catalog"`

	// Warehouse optionally configures a post-transfer load of the object.
	Warehouse Warehouse `json:"warehouse"`

	Runtime RuntimeConfig `json:"runtime"`
}

// Report identifies the source report.
type Report struct {
	// ID names the report in logs, metrics, the catalog and the destination
	// object.
	ID string `json:"id"`

	// URL is the report download endpoint, pre-signed or plain.
	URL string `json:"url"`

	// Format selects the source format: "csv", "report-csv" or "markup".
	Format string `json:"format"`

	// Charset names the source encoding for legacy exports ("iso-8859-1",
	// "windows-1252"). Empty means UTF-8.
	Charset string `json:"charset"`

	// Headers carries the authentication header set built by the external
	// credentials component, e.g. {"Authorization": "Bearer ..."}.
	Headers map[string]string `json:"headers"`
}

// Destination configures the object-store target.
type Destination struct {
	// Endpoint is the S3-compatible store endpoint, host[:port].
	Endpoint string `json:"endpoint"`

	// AccessKey and SecretKey authenticate against the store.
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`

	// UseSSL selects https transport to the store.
	UseSSL bool `json:"use_ssl"`

	// Bucket and Object name the destination. Empty Object defaults to
	// "<report id>.csv".
	Bucket string `json:"bucket"`
	Object string `json:"object"`
}

// Catalog configures the local transfer catalog. An empty Path disables it.
type Catalog struct {
	// Path is the sqlite database file recording transfer results.
	Path string `json:"path"`
}

// Warehouse configures the post-transfer load. An empty Kind disables it.
type Warehouse struct {
	// Kind selects the warehouse implementation. Current value: "postgres".
	Kind string `json:"kind"`

	// DB carries the database settings for the selected kind.
	DB DBConfig `json:"db"`
}

// DBConfig configures the warehouse database sink.
type DBConfig struct {
	// DSN is the connection string for pgx/pgxpool (e.g., postgresql://...).
	DSN string `json:"dsn"`

	// Table is the fully qualified table name (e.g., "public.dcm_123").
	// Empty defaults to the sanitized report ID.
	Table string `json:"table"`

	// AutoCreateTable makes the loader create the table from the inferred
	// schema before loading.
	AutoCreateTable bool `json:"auto_create_table"`

	// BatchSize is the number of CSV rows per COPY batch.
	BatchSize int `json:"batch_size"`
}

// RuntimeConfig controls chunking, queueing and retry behavior.
type RuntimeConfig struct {
	// ChunkMultiplier scales the 1 MiB base chunk. Zero falls back to the
	// CHUNK_MULTIPLIER environment variable, then DefaultChunkMultiplier.
	ChunkMultiplier int `json:"chunk_multiplier"`

	// QueueDepth is the upload queue capacity in chunks.
	QueueDepth int `json:"queue_depth"`

	// PartRetries is the in-place retry budget per upload part.
	PartRetries int `json:"part_retries"`

	// Options is a free-form bag for settings that have not earned a typed
	// field yet.
	Options Options `json:"options"`
}

// Load reads and decodes a transfer spec file.
func Load(path string) (TransferSpec, error) {
	var spec TransferSpec

	raw, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return spec, nil
}

// ChunkSize resolves the transfer chunk size in bytes: the spec's multiplier
// when set, else the CHUNK_MULTIPLIER environment variable, else the default.
func (r RuntimeConfig) ChunkSize() int {
	multiplier := r.ChunkMultiplier
	if multiplier <= 0 {
		if env, err := strconv.Atoi(os.Getenv("CHUNK_MULTIPLIER")); err == nil && env > 0 {
			multiplier = env
		} else {
			multiplier = DefaultChunkMultiplier
		}
	}
	return multiplier * 1024 * 1024
}

// ObjectName returns the destination object, defaulting to "<report id>.csv"
// the way the original report stores name their blobs.
func (s TransferSpec) ObjectName() string {
	if s.Destination.Object != "" {
		return s.Destination.Object
	}
	return s.Report.ID + ".csv"
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It purposefully
// performs only minimal type coercion and returns provided defaults when a key
// is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
// If the value is neither float64 nor int, def is returned.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty map
// when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map. This simplifies call
// sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
