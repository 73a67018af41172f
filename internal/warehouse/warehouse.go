// Package warehouse loads a completed transfer's CSV into a SQL warehouse.
// It focuses on:
//   - Batching rows into COPY operations to minimize round-trips.
//   - Avoiding whole-file materialization (rows arrive via a channel).
//   - Simple, testable design by inverting the COPY call via a function type.
//
// Cell values are converted from CSV text to typed Go values using the
// inferred schema, so drivers can encode them as native column types.
package warehouse

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/google/report2bq/internal/schema"
)

// DefaultBatchSize is the per-COPY row count used when a spec does not set
// one.
const DefaultBatchSize = 5000

// CopyFn abstracts the COPY operation. In production, the function should
// call pgx's CopyFrom; in tests, a fake function can verify batching
// behavior.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadBatches drains typed rows ([]any) from in, groups them into batches of
// size batchSize, and calls copyFn for each non-empty batch. It returns the
// total number of rows reported by copyFn and the first error encountered.
//
// The function returns when the input channel is closed or the context is
// canceled. It never buffers more than one batch plus the channel's pending
// items.
func LoadBatches(
	ctx context.Context,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("warehouse: batch size must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("warehouse: copyFn must not be nil")
	}

	var (
		total int64
		batch = make([][]any, 0, batchSize)
		flush = func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := copyFn(ctx, columns, batch)
			total += n
			// reuse backing array
			batch = batch[:0]
			return err
		}
	)

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case row, ok := <-in:
			if !ok {
				// Channel closed: flush remaining rows.
				if err := flush(); err != nil {
					return total, err
				}
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}

// FeedCSV reads the reassembled report CSV from r and sends one typed row
// per data line to out. The first line is the header and must have as many
// columns as s; data cells are converted per the matching field's type.
//
// FeedCSV does not close out. It returns the number of rows sent and the
// first read or conversion error. Conversion is strict: a cell that fails to
// parse as its column's type aborts the load, since the warehouse column
// would reject it anyway.
func FeedCSV(ctx context.Context, r io.Reader, s schema.Schema, out chan<- []any) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("warehouse: schema must not be empty")
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("warehouse: read header: %w", err)
	}
	if len(header) != len(s) {
		return 0, fmt.Errorf("warehouse: header has %d columns, schema has %d", len(header), len(s))
	}

	var sent int64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("warehouse: read row %d: %w", sent+1, err)
		}
		if len(rec) != len(s) {
			return sent, fmt.Errorf("warehouse: row %d has %d columns, want %d", sent+1, len(rec), len(s))
		}

		row := make([]any, len(rec))
		for i, cell := range rec {
			v, err := convertCell(cell, s[i].Type)
			if err != nil {
				return sent, fmt.Errorf("warehouse: row %d, column %s: %w", sent+1, s[i].Name, err)
			}
			row[i] = v
		}

		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case out <- row:
			sent++
		}
	}
}

// Load wires FeedCSV and LoadBatches together over an internal channel and
// returns the total row count reported by copyFn.
func Load(ctx context.Context, r io.Reader, s schema.Schema, batchSize int, copyFn CopyFn) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	rows := make(chan []any, batchSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		_, err := FeedCSV(ctx, r, s, rows)
		return err
	})

	var total int64
	g.Go(func() error {
		n, err := LoadBatches(ctx, s.Names(), rows, batchSize, copyFn)
		total = n
		return err
	})

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// convertCell converts one CSV cell to the Go value for its column type.
// Empty cells become nil (SQL NULL) regardless of type.
func convertCell(cell, typ string) (any, error) {
	if strings.TrimSpace(cell) == "" {
		return nil, nil
	}
	switch typ {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", cell, err)
		}
		return n, nil
	case schema.TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", cell, err)
		}
		return f, nil
	case schema.TypeDatetime:
		t, ok := schema.ParseDatetime(strings.TrimSpace(cell))
		if !ok {
			return nil, fmt.Errorf("parse datetime %q", cell)
		}
		return t, nil
	default:
		return cell, nil
	}
}
