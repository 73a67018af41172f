package repair

import (
	"bytes"

	"github.com/rs/zerolog"
)

// Footer trigger tokens. These are vendor-specific magic strings from the
// legacy export formats and must be preserved byte-for-byte; the trims below
// are keyed off real files, not any documented format.
var (
	groupByToken    = []byte("Group By:")
	blankLineToken  = []byte("\n\n")
	grandTotalToken = []byte("Grand Total")
)

// GroupByFooterTrim handles the group-by footer style: the report body ends
// at a blank line, followed by an all-comma spacer row and one "Group By:"
// line per grouped dimension, e.g.
//
//	...data...
//
//	,,
//	Group By: Campaign
//	Group By: Date
//
// The trim locates the blank line, counts the "Group By:" lines after it,
// and cuts at the trailing run of that many commas. A final chunk without a
// blank line is passed through untrimmed; that is a policy fallback worth a
// log line, not an error.
func GroupByFooterTrim(log zerolog.Logger) TrimPolicy {
	return func(buf []byte) []byte {
		blank := bytes.LastIndex(buf, blankLineToken)
		if blank == -1 {
			log.Info().Msg("no footer delimiter found, writing entire final chunk as is")
			return buf
		}

		groups := 0
		for _, line := range bytes.Split(buf[blank:], []byte("\n")) {
			if bytes.HasPrefix(line, groupByToken) {
				groups++
			}
		}

		spacer := append([]byte("\n"), bytes.Repeat([]byte(","), groups)...)
		if cut := bytes.LastIndex(buf, spacer); cut != -1 {
			return buf[:cut]
		}
		return buf[:blank]
	}
}

// GrandTotalTrim handles the grand-total footer style: the body is followed
// by a literal "Grand Total" summary row. The buffer is cut at the token's
// start offset; an absent token means no trimming.
func GrandTotalTrim() TrimPolicy {
	return func(buf []byte) []byte {
		if cut := bytes.LastIndex(buf, grandTotalToken); cut != -1 {
			return buf[:cut]
		}
		return buf
	}
}
