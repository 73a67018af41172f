package httpds

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

// dribbleReader returns at most n bytes per Read to exercise the
// accumulation loop in NextBlock.
type dribbleReader struct {
	r io.Reader
	n int
}

func (d *dribbleReader) Read(p []byte) (int, error) {
	if len(p) > d.n {
		p = p[:d.n]
	}
	return d.r.Read(p)
}

func openStream(t *testing.T, body string, charset string) *Stream {
	t.Helper()

	tr := &scriptedTransport{script: []func(*http.Request) (*http.Response, error){
		func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: io.NopCloser(&dribbleReader{
					r: strings.NewReader(body), n: 3,
				}),
				Header: http.Header{},
			}, nil
		},
	}}
	c := newTestClient(t, tr)

	s, err := c.Open(context.Background(), Handle{
		URL:     "http://reports.example/export",
		Charset: charset,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestNextBlock_AccumulatesToSize: NextBlock keeps reading until the
// requested size is reached, even when the transport dribbles small reads.
func TestNextBlock_AccumulatesToSize(t *testing.T) {
	t.Parallel()

	s := openStream(t, "abcdefghijklmnop", "")

	block, last, err := s.NextBlock(8)
	if err != nil || last {
		t.Fatalf("NextBlock: %q, last=%v, err=%v", block, last, err)
	}
	if string(block) != "abcdefgh" {
		t.Fatalf("block = %q", block)
	}

	block, last, err = s.NextBlock(100)
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !last || string(block) != "ijklmnop" {
		t.Fatalf("final block = %q, last=%v", block, last)
	}
}

// TestNextBlock_EmptySource: a zero-byte report yields one empty final
// block and no error.
func TestNextBlock_EmptySource(t *testing.T) {
	t.Parallel()

	s := openStream(t, "", "")
	block, last, err := s.NextBlock(16)
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !last || len(block) != 0 {
		t.Fatalf("block = %q, last=%v; want empty final", block, last)
	}

	// Subsequent calls stay terminal.
	block, last, _ = s.NextBlock(16)
	if !last || len(block) != 0 {
		t.Fatalf("post-EOF block = %q, last=%v", block, last)
	}
}

// TestNextBlock_StripsBOM: the default decoder removes a leading UTF-8 BOM.
func TestNextBlock_StripsBOM(t *testing.T) {
	t.Parallel()

	s := openStream(t, "\uFEFFa,b\n1,2\n", "")
	block, last, err := s.NextBlock(64)
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !last || !bytes.Equal(block, []byte("a,b\n1,2\n")) {
		t.Fatalf("block = %q, last=%v", block, last)
	}
}

// TestNextBlock_Latin1Transcodes: a latin-1 charset hint transcodes the
// body to UTF-8.
func TestNextBlock_Latin1Transcodes(t *testing.T) {
	t.Parallel()

	s := openStream(t, "caf\xe9\n", "iso-8859-1")
	block, _, err := s.NextBlock(64)
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if string(block) != "café\n" {
		t.Fatalf("block = %q, want café", block)
	}
}

// TestOpen_UnsupportedCharset: an unknown charset hint fails at Open, not
// mid-transfer.
func TestOpen_UnsupportedCharset(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{script: []func(*http.Request) (*http.Response, error){
		textResponse(http.StatusOK, "x"),
	}}
	c := newTestClient(t, tr)

	if _, err := c.Open(context.Background(), Handle{
		URL:     "http://reports.example/export",
		Charset: "ebcdic",
	}); err == nil {
		t.Fatal("expected error for unsupported charset")
	}
}
