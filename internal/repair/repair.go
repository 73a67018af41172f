// Package repair guarantees that every record handed downstream is complete.
//
// Report downloads arrive in fixed-size chunks whose boundaries fall
// anywhere, including mid-row. The repairer splits each chunk at the last
// record delimiter and carries the unparsed suffix forward into the next
// chunk, so downstream parsing and upload only ever see whole records. The
// cost is at most one chunk of latency; no bytes are dropped or duplicated
// across a boundary.
//
// Nothing in this package returns an error. A chunk without a delimiter is
// an expected state (the chunk is smaller than one record) and is simply
// carried forward whole; a final chunk without the expected footer is passed
// through untrimmed. Report exports are too variable for anything stricter.
package repair

import "bytes"

// Common record end markers for the supported source formats.
var (
	// MarkerNewline terminates CSV rows.
	MarkerNewline = []byte("\n")

	// MarkerTableRow terminates rows in legacy HTML-table web exports.
	MarkerTableRow = []byte("</tr>")
)

// TrimPolicy removes source-specific trailing garbage (vendor footers,
// grand-total rows) from the final chunk of a transfer.
type TrimPolicy func(buf []byte) []byte

// Repairer splits chunks at record boundaries, carrying the unparsed
// remainder between calls. The remainder is the one piece of cross-chunk
// mutable state in a transfer; a Repairer belongs to exactly one transfer
// and is not safe for concurrent use.
type Repairer struct {
	marker    []byte
	trim      TrimPolicy
	remainder []byte
}

// NewRepairer returns a Repairer splitting on marker, applying trim (which
// may be nil) to the final chunk.
func NewRepairer(marker []byte, trim TrimPolicy) *Repairer {
	return &Repairer{marker: marker, trim: trim}
}

// Repair prepends the carried remainder to chunk and returns the
// complete-records prefix.
//
// For a non-final chunk the split point is the last occurrence of the
// record marker; everything after it becomes the new remainder. When the
// marker is absent the whole buffer is carried forward and nothing is
// emitted this round. For the final chunk the whole buffer (remainder
// included) is emitted after the trim policy has removed any trailing
// footer; the remainder is left empty.
func (r *Repairer) Repair(chunk []byte, isLast bool) []byte {
	buf := chunk
	if len(r.remainder) > 0 {
		buf = append(r.remainder, chunk...)
	}
	r.remainder = nil

	if isLast {
		if r.trim != nil {
			buf = r.trim(buf)
		}
		return buf
	}

	pos := bytes.LastIndex(buf, r.marker)
	if pos == -1 {
		r.remainder = buf
		return nil
	}

	cut := pos + len(r.marker)
	r.remainder = append([]byte(nil), buf[cut:]...)
	return buf[:cut]
}

// Remainder exposes the carried bytes, mainly for tests and progress logs.
func (r *Repairer) Remainder() []byte {
	return r.remainder
}
