package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/report2bq/internal/datasource/httpds"
	"github.com/google/report2bq/internal/schema"
)

// memSink collects committed parts in memory, standing in for the object
// store.
type memSink struct {
	mu        sync.Mutex
	began     bool
	completed bool
	aborted   bool
	parts     map[int][]byte
}

func newMemSink() *memSink {
	return &memSink{parts: map[int][]byte{}}
}

func (m *memSink) Begin(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.began = true
	return nil
}

func (m *memSink) WritePart(_ context.Context, partNumber int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts[partNumber] = append([]byte(nil), data...)
	return nil
}

func (m *memSink) Complete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = true
	return nil
}

func (m *memSink) Abort(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = true
	return nil
}

func (m *memSink) object() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out bytes.Buffer
	for i := 1; ; i++ {
		p, ok := m.parts[i]
		if !ok {
			break
		}
		out.Write(p)
	}
	return out.Bytes()
}

// serveBody returns a test server answering every GET with body.
func serveBody(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(chunkSize int) *Pipeline {
	client := httpds.NewClient(httpds.Config{MaxRetries: 0})
	return New(client, Config{
		ChunkSize:    chunkSize,
		PartRetries:  1,
		RetryBackoff: time.Millisecond,
	})
}

func TestRun_CSVTrimsGroupByFooter(t *testing.T) {
	t.Parallel()

	body := "campaign,clicks\nSpring,100\nSummer,200\n" +
		"\n,,\nGroup By: Campaign\nGroup By: Date\n"
	srv := serveBody(t, body)

	// The footer section must sit inside the final chunk for the trim to
	// see it, which holds for production chunk sizes; keep it that way here.
	sink := newMemSink()
	p := newTestPipeline(1024)
	res, err := p.Run(context.Background(), Transfer{
		ID:     "dbm_1",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatCSV,
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "campaign,clicks\nSpring,100\nSummer,200\n"
	if got := string(sink.object()); got != want {
		t.Fatalf("object = %q, want %q", got, want)
	}
	if !sink.completed {
		t.Fatal("sink not completed")
	}
	if res.BytesDownloaded != int64(len(body)) {
		t.Fatalf("downloaded = %d, want %d", res.BytesDownloaded, len(body))
	}
	if res.BytesCommitted != int64(len(want)) {
		t.Fatalf("committed = %d, want %d", res.BytesCommitted, len(want))
	}

	wantNames := []string{"campaign", "clicks"}
	if len(res.Fieldnames) != 2 || res.Fieldnames[0] != wantNames[0] || res.Fieldnames[1] != wantNames[1] {
		t.Fatalf("fieldnames = %v, want %v", res.Fieldnames, wantNames)
	}
	wantTypes := []string{schema.TypeString, schema.TypeInteger}
	for i, f := range res.Schema {
		if f.Type != wantTypes[i] {
			t.Fatalf("schema[%d].Type = %q, want %q", i, f.Type, wantTypes[i])
		}
	}
}

func TestRun_CSVMultiBlockKeepsRowsIntact(t *testing.T) {
	t.Parallel()

	body := "campaign,clicks\nSpring,100\nSummer,200\nAutumn,300\nWinter,400\n"
	srv := serveBody(t, body)

	sink := newMemSink()
	p := newTestPipeline(16) // forces several blocks and upload parts
	res, err := p.Run(context.Background(), Transfer{
		ID:     "dbm_2",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatCSV,
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// No footer in this export, so the object is the byte-for-byte body.
	if got := string(sink.object()); got != body {
		t.Fatalf("object = %q, want %q", got, body)
	}
	if res.Parts < 2 {
		t.Fatalf("parts = %d, want multi-part upload", res.Parts)
	}
}

func TestRun_ReportCSVSkipsPreHeaderAndGrandTotal(t *testing.T) {
	t.Parallel()

	body := "Report\nReport Fields\n" +
		"day,impressions\n2024-01-02,100\n2024-01-03,250\n" +
		"Grand Total,350\n"
	srv := serveBody(t, body)

	sink := newMemSink()
	p := newTestPipeline(32)
	res, err := p.Run(context.Background(), Transfer{
		ID:     "dcm_1",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatReportCSV,
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "day,impressions\n2024-01-02,100\n2024-01-03,250\n"
	if got := string(sink.object()); got != want {
		t.Fatalf("object = %q, want %q", got, want)
	}
	if res.BytesCommitted != int64(len(want)) {
		t.Fatalf("committed = %d, want %d", res.BytesCommitted, len(want))
	}

	if len(res.Schema) != 2 {
		t.Fatalf("schema = %v, want 2 fields", res.Schema)
	}
	if res.Schema[0].Type != schema.TypeDatetime || res.Schema[1].Type != schema.TypeInteger {
		t.Fatalf("schema types = %s,%s, want DATETIME,INTEGER",
			res.Schema[0].Type, res.Schema[1].Type)
	}
}

const markupBody = `<html><table>` +
	`<thead><tr><th>Campaign</th><th>Clicks &amp; Cost</th></tr></thead>` +
	`<tbody>` +
	`<tr><td>Spring</td><td>100</td></tr>` +
	`<tr><td>Summer &amp; Fall</td><td>200</td></tr>` +
	`</tbody></table></html>`

func TestRun_MarkupReserializesAsQuotedCSV(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, markupBody)

	sink := newMemSink()
	p := newTestPipeline(1024)
	res, err := p.Run(context.Background(), Transfer{
		ID:     "sa360_1",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatMarkup,
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "\"Campaign\",\"Clicks & Cost\"\n" +
		"\"Spring\",\"100\"\n" +
		"\"Summer & Fall\",\"200\"\n"
	if got := string(sink.object()); got != want {
		t.Fatalf("object = %q, want %q", got, want)
	}

	if len(res.Fieldnames) != 2 || res.Fieldnames[1] != "Clicks & Cost" {
		t.Fatalf("fieldnames = %v", res.Fieldnames)
	}
	if len(res.Schema) != 2 {
		t.Fatalf("schema = %v, want 2 fields", res.Schema)
	}
	if res.Schema[1].Name != "Clicks_0x26_Cost" {
		t.Fatalf("schema[1].Name = %q, want Clicks_0x26_Cost", res.Schema[1].Name)
	}
	if res.Schema[1].Type != schema.TypeInteger {
		t.Fatalf("schema[1].Type = %q, want INTEGER", res.Schema[1].Type)
	}
}

func TestRun_MarkupErrorReportFailsTransfer(t *testing.T) {
	t.Parallel()

	body := `<html><table>` +
		`<thead><tr><th>Error</th></tr></thead>` +
		`<tbody><tr><td>Report not ready &amp; retry later</td></tr></tbody>` +
		`</table></html>`
	srv := serveBody(t, body)

	sink := newMemSink()
	p := newTestPipeline(1024)
	_, err := p.Run(context.Background(), Transfer{
		ID:     "sa360_err",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatMarkup,
	}, sink)
	if !errors.Is(err, ErrReportFailed) {
		t.Fatalf("err = %v, want ErrReportFailed", err)
	}
	if !strings.Contains(err.Error(), "Report not ready & retry later") {
		t.Fatalf("err = %v, want unescaped error body", err)
	}
	if !sink.aborted {
		t.Fatal("sink not aborted after error report")
	}
	if sink.completed {
		t.Fatal("sink completed despite error report")
	}
}

func TestRun_EmptyReportSucceeds(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, "")

	sink := newMemSink()
	p := newTestPipeline(64)
	res, err := p.Run(context.Background(), Transfer{
		ID:     "empty_1",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatCSV,
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.BytesDownloaded != 0 || res.BytesCommitted != 0 {
		t.Fatalf("bytes = %d/%d, want 0/0", res.BytesDownloaded, res.BytesCommitted)
	}
	if len(res.Schema) != 0 {
		t.Fatalf("schema = %v, want empty", res.Schema)
	}
	if !sink.completed {
		t.Fatal("sink not completed: empty report must still create the object")
	}
}

func TestRun_ConnectionFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	sink := newMemSink()
	p := newTestPipeline(64)
	_, err := p.Run(context.Background(), Transfer{
		ID:     "gone_1",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatCSV,
	}, sink)
	if !errors.Is(err, httpds.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if sink.began {
		t.Fatal("upload session opened despite connection failure")
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"csv", "report-csv", "markup"} {
		if _, err := ParseFormat(s); err != nil {
			t.Fatalf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("ParseFormat(xml) should fail")
	}
}

func TestPeekSchema_ReportCSV(t *testing.T) {
	t.Parallel()

	body := "Report\nReport Fields\n" +
		"day,impressions,rate\n2024-01-02,100,0.25\n2024-01-03,250,0.5\n"
	srv := serveBody(t, body)

	p := newTestPipeline(64)
	got, err := p.PeekSchema(context.Background(), Transfer{
		ID:     "dcm_peek",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatReportCSV,
	})
	if err != nil {
		t.Fatalf("PeekSchema: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("schema = %v, want 3 fields", got)
	}
	wantTypes := []string{schema.TypeDatetime, schema.TypeInteger, schema.TypeFloat}
	for i, f := range got {
		if f.Type != wantTypes[i] {
			t.Fatalf("schema[%d].Type = %q, want %q", i, f.Type, wantTypes[i])
		}
	}
}

func TestPeekSchema_Markup(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, markupBody)

	p := newTestPipeline(64)
	got, err := p.PeekSchema(context.Background(), Transfer{
		ID:     "sa360_peek",
		Handle: httpds.Handle{URL: srv.URL},
		Format: FormatMarkup,
	})
	if err != nil {
		t.Fatalf("PeekSchema: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Campaign" || got[1].Name != "Clicks_0x26_Cost" {
		t.Fatalf("schema = %v", got)
	}
}
