package schema

// Sanitization of report column names into warehouse-safe identifiers.
//
// The rule is applied character by character and must stay bit-exact: the
// sanitized names are already baked into downstream warehouse tables, so any
// change here silently orphans existing columns.
//
//   - [A-Za-z0-9_] pass through unchanged.
//   - space, '(', ')', ':', ',' and '-' become '_'.
//   - every other character becomes its hexadecimal code point, prefixed
//     "0x" (e.g. '!' -> "0x21").
//
// Two variants exist: SanitizeTitle for display-style names (report titles,
// object names) and SanitizeColumn for column identifiers. They differ only
// in that a column identifier must not start with a digit, so SanitizeColumn
// prepends "X" in that case.

import (
	"fmt"
	"strings"
)

// SanitizeTitle sanitizes a report or column title for use anywhere a
// human-readable but filesystem/warehouse-safe name is needed.
func SanitizeTitle(original string) string {
	var b strings.Builder
	b.Grow(len(original))

	for _, r := range original {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '(', r == ')', r == ':', r == ',', r == '-':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "0x%x", r)
		}
	}

	return b.String()
}

// SanitizeColumn sanitizes a column name for use as a warehouse column
// identifier. Identical to SanitizeTitle except that a leading digit gets an
// "X" prefix, since column identifiers must not start with a digit.
func SanitizeColumn(original string) string {
	s := SanitizeTitle(original)
	if len(s) > 0 && s[0] >= '0' && s[0] <= '9' {
		return "X" + s
	}
	return s
}
