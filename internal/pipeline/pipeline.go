// Package pipeline wires one report transfer end to end: pull fixed-size
// blocks from the source, repair record boundaries, sample a schema off the
// first complete block, and stream the cleaned bytes to the destination
// object store.
//
// One Run is one report. The producer side (download + repair) and the
// consumer side (part flushes) run concurrently, joined by the uploader's
// bounded queue; memory stays bounded by a few chunks regardless of report
// size. Failures in either side abort the transfer and leave the partial
// destination object for next-run cleanup.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/google/report2bq/internal/datasource/httpds"
	"github.com/google/report2bq/internal/markup"
	"github.com/google/report2bq/internal/metrics"
	"github.com/google/report2bq/internal/repair"
	"github.com/google/report2bq/internal/schema"
	"github.com/google/report2bq/internal/uploader"
)

// Format selects the record-boundary marker, footer-trim policy and
// serialization for a source report.
type Format string

const (
	// FormatCSV is a plain CSV export with an optional group-by footer
	// (DBM/DV360 style). Passed through with the footer trimmed.
	FormatCSV Format = "csv"

	// FormatReportCSV is a report file with a "Report Fields" pre-header
	// section and a Grand Total footer row (DCM/CM360 style). The pre-header
	// is skipped and the footer trimmed.
	FormatReportCSV Format = "report-csv"

	// FormatMarkup is a legacy web export: an HTML table of records
	// (SA360 style), re-serialized into fully quoted CSV.
	FormatMarkup Format = "markup"
)

// ParseFormat maps a config string onto a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatReportCSV, FormatMarkup:
		return Format(s), nil
	default:
		return "", fmt.Errorf("pipeline: unknown report format %q", s)
	}
}

// ErrReportFailed means the source answered the download with an error
// report instead of data: a markup table whose only column is "Error". The
// wrapped message is the unescaped error body.
var ErrReportFailed = errors.New("pipeline: source returned an error report")

// headerMarker ends the descriptive pre-header section of report-CSV files;
// actual CSV data starts right after it.
var headerMarker = []byte("Report Fields\n")

const (
	// defaultChunkSize is the block and upload-part size when the config
	// does not set one.
	defaultChunkSize = 64 * 1024 * 1024

	// markupBlockSize is the download block size for markup reports. Much
	// smaller than the CSV chunk size: each block is parsed in memory, and
	// the source serves these exports from a slower web endpoint.
	markupBlockSize = 2048 * 1024

	// schemaSampleSize caps the bytes fed to type inference.
	schemaSampleSize = 163840
)

// Config tunes a Pipeline. Zero values get defaults.
type Config struct {
	// ChunkSize is the download block size and upload part size for CSV
	// formats. Defaults to 64 MiB.
	ChunkSize int

	// QueueDepth is the upload queue capacity in chunks.
	QueueDepth int

	// PartRetries and RetryBackoff tune the uploader's in-place part retry.
	PartRetries  int
	RetryBackoff time.Duration

	Logger zerolog.Logger
}

// Transfer identifies one report to move.
type Transfer struct {
	// ID names the report in logs, metrics and the catalog.
	ID string

	Handle httpds.Handle
	Format Format
}

// Result is the outcome of a completed transfer.
type Result struct {
	// Fieldnames are the raw header labels as the source spelled them.
	Fieldnames []string

	// Schema is the inferred destination schema, sanitized column names and
	// all. Empty for a zero-byte report.
	Schema schema.Schema

	// BytesDownloaded counts raw source bytes; BytesCommitted counts bytes
	// written to the destination after repair and trims.
	BytesDownloaded int64
	BytesCommitted  int64

	// Parts is the number of upload parts the object was committed in.
	Parts int

	// Checksum is the xxh3 hash of the committed bytes.
	Checksum uint64
}

// Pipeline runs report transfers over a shared download client.
type Pipeline struct {
	client *httpds.Client
	cfg    Config
	log    zerolog.Logger
}

// New returns a Pipeline using client for downloads.
func New(client *httpds.Client, cfg Config) *Pipeline {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Pipeline{client: client, cfg: cfg, log: cfg.Logger}
}

// Run moves one report from source to destination sink and returns the
// transfer result. Connection and upload-init failures are fatal and
// propagate; the destination is aborted and left as the store leaves
// aborted uploads. A zero-byte report completes successfully with an empty
// schema.
func (p *Pipeline) Run(ctx context.Context, t Transfer, sink uploader.Sink) (*Result, error) {
	started := time.Now()

	stream, err := p.client.Open(ctx, t.Handle)
	metrics.RecordStep(t.ID, "download", err, time.Since(started))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	q, err := uploader.StartQueued(ctx, sink, uploader.Config{
		ChunkSize:    p.cfg.ChunkSize,
		PartRetries:  p.cfg.PartRetries,
		RetryBackoff: p.cfg.RetryBackoff,
		Logger:       p.log,
	}, p.cfg.QueueDepth)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	switch t.Format {
	case FormatMarkup:
		err = p.produceMarkup(ctx, t, stream, q, res)
	default:
		err = p.produceCSV(ctx, t, stream, q, res)
	}
	if err != nil {
		_ = q.Abort(ctx)
		metrics.RecordStep(t.ID, "transfer", err, time.Since(started))
		return nil, err
	}

	uploadStarted := time.Now()
	committed, err := q.Stop(ctx)
	metrics.RecordStep(t.ID, "upload", err, time.Since(uploadStarted))
	if err != nil {
		metrics.RecordStep(t.ID, "transfer", err, time.Since(started))
		return nil, err
	}
	res.BytesCommitted = committed
	res.Parts = q.Parts()
	res.Checksum = q.Checksum()

	metrics.RecordStep(t.ID, "transfer", nil, time.Since(started))
	metrics.RecordBytes(t.ID, "downloaded", res.BytesDownloaded)
	metrics.RecordBytes(t.ID, "committed", res.BytesCommitted)
	metrics.RecordParts(t.ID, int64(res.Parts))

	p.log.Info().
		Str("report", t.ID).
		Int64("downloaded", res.BytesDownloaded).
		Int64("committed", res.BytesCommitted).
		Int("parts", res.Parts).
		Msg("transfer complete")
	return res, nil
}

// produceCSV drives the passthrough formats: repair row boundaries, skip the
// report-CSV pre-header on the first emitted block, sample the schema, and
// enqueue the cleaned bytes unchanged.
func (p *Pipeline) produceCSV(ctx context.Context, t Transfer, stream *httpds.Stream, q *uploader.Queued, res *Result) error {
	var rep *repair.Repairer
	switch t.Format {
	case FormatReportCSV:
		rep = repair.NewRepairer(repair.MarkerNewline, repair.GrandTotalTrim())
	default:
		rep = repair.NewRepairer(repair.MarkerNewline, repair.GroupByFooterTrim(p.log))
	}

	needSkip := t.Format == FormatReportCSV
	sampled := false
	for {
		block, isLast, err := stream.NextBlock(p.cfg.ChunkSize)
		if err != nil {
			return err
		}
		res.BytesDownloaded += int64(len(block))

		data := rep.Repair(block, isLast)
		if needSkip && len(data) > 0 {
			// The pre-header section ends inside the first emitted block.
			if idx := bytes.Index(data, headerMarker); idx != -1 {
				data = data[idx+len(headerMarker):]
			}
			needSkip = false
		}
		if !sampled && len(data) > 0 {
			p.sampleSchema(t, data, res)
			sampled = true
		}
		if len(data) > 0 {
			if err := q.Enqueue(ctx, data); err != nil {
				return err
			}
		}

		p.log.Debug().
			Str("report", t.ID).
			Int64("downloaded", res.BytesDownloaded).
			Int("carried", len(rep.Remainder())).
			Bool("last", isLast).
			Msg("block repaired")

		if isLast {
			return nil
		}
	}
}

// produceMarkup drives the web-export format: repair on row-close tags,
// extract field labels from the head section of the first block, detect
// source-side error reports, and re-serialize every row as fully quoted
// CSV.
func (p *Pipeline) produceMarkup(ctx context.Context, t Transfer, stream *httpds.Stream, q *uploader.Queued, res *Result) error {
	rep := repair.NewRepairer(repair.MarkerTableRow, nil)

	var (
		fieldnames []string
		pending    []byte
		out        bytes.Buffer
		first      = true
	)
	for {
		block, isLast, err := stream.NextBlock(markupBlockSize)
		if err != nil {
			return err
		}
		res.BytesDownloaded += int64(len(block))

		data := rep.Repair(block, isLast)
		if len(pending) > 0 {
			data = append(pending, data...)
			pending = nil
		}
		if len(data) == 0 {
			if isLast {
				return nil
			}
			continue
		}

		if fieldnames == nil {
			names, rest, ok := markup.FieldNames(data)
			if !ok {
				// Head section split across blocks; carry and retry.
				if !isLast {
					pending = data
					continue
				}
				return fmt.Errorf("pipeline: report %s has no header section", t.ID)
			}
			if len(names) == 1 && names[0] == "Error" {
				return fmt.Errorf("%w: %s", ErrReportFailed, markup.Text(rest))
			}
			fieldnames = names
			res.Fieldnames = names
			data = rest
		}

		out.Reset()
		markup.WriteCSV(&out, fieldnames, markup.ExtractRows(data), first)
		if first {
			sample := out.Bytes()
			if len(sample) > schemaSampleSize {
				sample = sample[:schemaSampleSize]
			}
			headers, err := schema.ExtractHeader(sample)
			if err == nil {
				res.Schema = schema.BuildSchema(headers, schema.InferTypes(sample))
			}
			first = false
		}
		if out.Len() > 0 {
			if err := q.Enqueue(ctx, append([]byte(nil), out.Bytes()...)); err != nil {
				return err
			}
		}
		if isLast {
			return nil
		}
	}
}

// sampleSchema infers the destination schema from the first complete block
// of a CSV-format transfer. Inference is best effort: a sample that fails
// to parse leaves the schema empty rather than failing the transfer.
func (p *Pipeline) sampleSchema(t Transfer, data []byte, res *Result) {
	sample := data
	if len(sample) > schemaSampleSize {
		sample = sample[:schemaSampleSize]
		// Drop the truncated trailing row so it cannot skew inference.
		if cut := bytes.LastIndexByte(sample, '\n'); cut != -1 {
			sample = sample[:cut+1]
		}
	}

	headers, err := schema.ExtractHeader(sample)
	if err != nil || len(headers) == 0 {
		p.log.Info().Str("report", t.ID).Msg("no header sample, schema left empty")
		return
	}
	res.Fieldnames = headers
	res.Schema = schema.BuildSchema(headers, schema.InferTypes(sample))
}

// PeekSchema downloads just enough of a report to infer its schema, without
// transferring it. Used by the catalog refresh path to pre-create warehouse
// tables before the report finishes rendering.
func (p *Pipeline) PeekSchema(ctx context.Context, t Transfer) (schema.Schema, error) {
	stream, err := p.client.Open(ctx, t.Handle)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	block, _, err := stream.NextBlock(schemaSampleSize)
	if err != nil {
		return nil, err
	}

	sample := block
	switch t.Format {
	case FormatReportCSV:
		if idx := bytes.Index(sample, headerMarker); idx != -1 {
			sample = sample[idx+len(headerMarker):]
		}
	case FormatMarkup:
		names, rest, ok := markup.FieldNames(sample)
		if !ok {
			return nil, fmt.Errorf("pipeline: report %s sample has no header section", t.ID)
		}
		if len(names) == 1 && names[0] == "Error" {
			return nil, fmt.Errorf("%w: %s", ErrReportFailed, markup.Text(rest))
		}
		var buf bytes.Buffer
		markup.WriteCSV(&buf, names, markup.ExtractRows(rest), true)
		sample = buf.Bytes()
	}

	headers, err := schema.ExtractHeader(sample)
	if err != nil {
		return nil, fmt.Errorf("pipeline: sample header: %w", err)
	}
	return schema.BuildSchema(headers, schema.InferTypes(sample)), nil
}
