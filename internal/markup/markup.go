// Package markup parses the legacy web-export format: an HTML table
// masquerading as XML, frequently malformed and truncated at chunk
// boundaries.
//
// The export is one giant <table> with a <thead> of column labels and one
// <tr> per record. A real XML parser chokes on it (unescaped entities,
// unclosed tags, multi-gigabyte single element), so extraction works on raw
// byte scanning for tag pairs instead, the same tolerance-first approach
// the rest of the transfer engine takes. Callers are expected to have
// already repaired record boundaries, so a buffer handed to ExtractRows
// contains only whole <tr> elements.
package markup

import (
	"bytes"
	"html"
	"regexp"
	"strings"
)

var (
	cellPattern  = regexp.MustCompile(`<td[^>]*>([^<]*)</td>`)
	labelPattern = regexp.MustCompile(`<th[^>]*>([^<]*)</th>`)
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
)

// Text strips every tag from buf and unescapes what remains. Used to turn
// an error-report body into a readable message.
func Text(buf []byte) string {
	return strings.TrimSpace(html.UnescapeString(string(tagPattern.ReplaceAll(buf, nil))))
}

// ExtractTag returns the content of the first <tag>...</tag> pair in buf
// (tags included) and the unconsumed rest of the buffer. A missing or
// unterminated pair returns ok=false with buf untouched; truncated trailing
// content is an expected state, not an error.
func ExtractTag(buf []byte, tag string) (content []byte, rest []byte, ok bool) {
	open := []byte("<" + tag + ">")
	close := []byte("</" + tag + ">")

	start := bytes.Index(buf, open)
	if start == -1 {
		return nil, buf, false
	}
	end := bytes.Index(buf[start:], close)
	if end == -1 {
		return nil, buf, false
	}
	stop := start + end + len(close)
	return buf[start:stop], buf[stop:], true
}

// FieldNames extracts the column labels from the head section of the first
// block. Labels are HTML-unescaped but otherwise raw; the caller picks the
// sanitization variant. ok=false means the block holds no complete head
// section (or none at all).
func FieldNames(buf []byte) (names []string, rest []byte, ok bool) {
	head, rest, ok := ExtractTag(buf, "thead")
	if !ok {
		return nil, buf, false
	}
	for _, m := range labelPattern.FindAllSubmatch(head, -1) {
		names = append(names, html.UnescapeString(string(m[1])))
	}
	return names, rest, true
}

// ExtractRows pulls every complete <tr> from buf and returns the rows as
// cell slices, HTML entities unescaped. Incomplete trailing content is
// ignored; the boundary repairer upstream guarantees there is none in
// normal operation.
func ExtractRows(buf []byte) [][]string {
	var rows [][]string
	for {
		tr, rest, ok := ExtractTag(buf, "tr")
		if !ok {
			return rows
		}
		buf = rest

		matches := cellPattern.FindAllSubmatch(tr, -1)
		row := make([]string, 0, len(matches))
		for _, m := range matches {
			row = append(row, html.UnescapeString(string(m[1])))
		}
		rows = append(rows, row)
	}
}

// WriteCSV serializes rows as UTF-8 CSV with every field quoted, padding or
// truncating each row to the field count. When header is true the field
// names are written as the first line (also fully quoted).
//
// Full quoting is deliberate: cells come from unconstrained web markup and
// the destination object must parse identically everywhere.
func WriteCSV(out *bytes.Buffer, fieldnames []string, rows [][]string, header bool) {
	if header {
		writeQuotedRow(out, fieldnames)
	}
	for _, row := range rows {
		aligned := row
		if len(row) != len(fieldnames) && len(fieldnames) > 0 {
			aligned = make([]string, len(fieldnames))
			copy(aligned, row)
		}
		writeQuotedRow(out, aligned)
	}
}

func writeQuotedRow(out *bytes.Buffer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			out.WriteByte(',')
		}
		out.WriteByte('"')
		out.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		out.WriteByte('"')
	}
	out.WriteByte('\n')
}
