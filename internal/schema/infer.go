package schema

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// utf8BOM is the byte-order mark some report exports prepend to the header
// line. It is stripped before the header cell is used as a column name.
const utf8BOM = "\uFEFF"

// datetimeLayouts are the accepted date/datetime shapes, tried in order.
// The closed set mirrors what the ad platforms actually emit; widening it
// risks misclassifying free-text columns that happen to look date-ish.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// ExtractHeader returns the column names from the first line of a CSV
// sample. The names are returned raw (BOM stripped, whitespace trimmed) so
// that callers can choose the title or column sanitization variant.
//
// An empty sample returns an empty slice, not an error.
func ExtractHeader(sample []byte) ([]string, error) {
	cr := csv.NewReader(bytes.NewReader(sample))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rec, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	headers := make([]string, len(rec))
	for i, h := range rec {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		headers[i] = h
	}
	return headers, nil
}

// InferTypes parses the sample as CSV (header line included) and derives a
// best-effort type per column.
//
// Each column starts with the full candidate set {DATETIME, INTEGER, FLOAT}
// and every non-empty cell eliminates the candidates it fails to parse as.
// The surviving candidate with the highest priority wins; a column with no
// survivors (or only empty cells) is STRING. Types only ever widen, never
// narrow: one free-text cell in a million-row numeric column makes the
// column STRING, which is the safe load behavior.
//
// A header-only or empty sample yields an empty slice. Callers treat that as
// "default every field to STRING" when building the final schema.
func InferTypes(sample []byte) []string {
	cr := csv.NewReader(bytes.NewReader(sample))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil
	}
	width := len(header)

	type candidates struct {
		datetime bool
		integer  bool
		float    bool
		seen     bool // at least one non-empty cell observed
	}
	cols := make([]candidates, width)
	for i := range cols {
		cols[i] = candidates{datetime: true, integer: true, float: true}
	}

	rows := 0
	for {
		rec, err := cr.Read()
		if err != nil {
			// EOF, or a row truncated by the sample boundary. Either way the
			// sample is exhausted; inference works with what it has.
			break
		}
		rows++
		for i := 0; i < width && i < len(rec); i++ {
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				continue
			}
			c := &cols[i]
			c.seen = true
			if c.datetime && !parsesAsDatetime(cell) {
				c.datetime = false
			}
			if c.integer && !parsesAsInteger(cell) {
				c.integer = false
			}
			if c.float && !parsesAsFloat(cell) {
				c.float = false
			}
		}
	}

	if rows == 0 {
		return nil
	}

	types := make([]string, width)
	for i, c := range cols {
		switch {
		case !c.seen:
			types[i] = TypeString
		case c.datetime:
			types[i] = TypeDatetime
		case c.integer:
			types[i] = TypeInteger
		case c.float:
			types[i] = TypeFloat
		default:
			types[i] = TypeString
		}
	}
	return types
}

// ParseDatetime parses s against the accepted report datetime layouts. The
// warehouse loader uses it to convert DATETIME cells to typed values.
func ParseDatetime(s string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parsesAsDatetime(s string) bool {
	_, ok := ParseDatetime(s)
	return ok
}

func parsesAsInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func parsesAsFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
