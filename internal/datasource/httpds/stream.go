package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Handle identifies one remote report for the duration of a single
// transfer. It is immutable once created.
type Handle struct {
	// URL is the report download endpoint, pre-signed or plain.
	URL string

	// Headers carries the authentication header set built by the external
	// credentials component.
	Headers http.Header

	// ContentLength is the declared report size in bytes, or -1/0 when the
	// source does not declare one. Informational only; exhaustion is always
	// detected by reading, never by byte accounting.
	ContentLength int64

	// Charset names the source encoding for legacy web exports that do not
	// serve UTF-8 ("iso-8859-1", "windows-1252"). Empty means UTF-8; a UTF-8
	// BOM is stripped either way. Output is always UTF-8.
	Charset string
}

// Stream is an open report download. It wraps the response body as a
// pull-based block producer; blocks are at most the requested size and the
// final block is flagged. Not safe for concurrent use.
type Stream struct {
	body io.ReadCloser
	r    io.Reader
	done bool
}

// Open establishes the download connection for handle. Connection failures
// (wrapped in ErrConnection) are fatal to the transfer; the caller logs and
// skips the report.
func (c *Client) Open(ctx context.Context, handle Handle) (*Stream, error) {
	resp, err := c.Get(ctx, handle.URL, handle.Headers)
	if err != nil {
		return nil, err
	}

	dec, err := decoderFor(handle.Charset)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return &Stream{
		body: resp.Body,
		r:    dec.Reader(resp.Body),
	}, nil
}

// NextBlock pulls up to size bytes from the transport, looping internal
// reads until size bytes have accumulated or the source is exhausted. It
// returns isLast=true exactly when the source is exhausted; the final block
// may be shorter than size (or empty for a zero-byte report).
//
// A mid-block transport error fails the transfer; there is no seek or
// retry within a block.
func (s *Stream) NextBlock(size int) ([]byte, bool, error) {
	if size <= 0 {
		return nil, false, fmt.Errorf("httpds: block size must be > 0, got %d", size)
	}
	if s.done {
		return nil, true, nil
	}

	buf := make([]byte, size)
	filled := 0
	for filled < size {
		n, err := s.r.Read(buf[filled:])
		filled += n
		if err == io.EOF {
			s.done = true
			return buf[:filled], true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("httpds: read block: %w", err)
		}
	}
	return buf, false, nil
}

// Close releases the underlying connection. Closing mid-download aborts the
// transfer; the next NextBlock call surfaces the failure.
func (s *Stream) Close() error {
	return s.body.Close()
}

// decoderFor maps a charset hint onto a transform decoder. The default
// decoder passes UTF-8 through while stripping a leading BOM, which some
// report exports prepend.
func decoderFor(charset string) (*encoding.Decoder, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM.NewDecoder(), nil
	case "iso-8859-1", "latin-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("httpds: unsupported charset %q", charset)
	}
}
