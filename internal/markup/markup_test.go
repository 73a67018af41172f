package markup

import (
	"bytes"
	"reflect"
	"testing"
)

const exportSample = `<table><thead><th>Campaign</th><th>7 Day Clicks</th><th>Cost &amp; Fees</th></thead>` +
	`<tr><td>alpha</td><td>10</td><td>1.50</td></tr>` +
	`<tr><td>beta &quot;b&quot;</td><td>20</td><td>2.75</td></tr></table>`

// TestFieldNames extracts and unescapes the head labels, leaving the rows
// in the returned rest.
func TestFieldNames(t *testing.T) {
	t.Parallel()

	names, rest, ok := FieldNames([]byte(exportSample))
	if !ok {
		t.Fatal("expected a complete head section")
	}
	want := []string{"Campaign", "7 Day Clicks", "Cost & Fees"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if bytes.Contains(rest, []byte("thead")) {
		t.Fatalf("rest still contains head: %q", rest)
	}
	if rows := ExtractRows(rest); len(rows) != 2 {
		t.Fatalf("rows after head = %d, want 2", len(rows))
	}
}

// TestFieldNames_Incomplete: a buffer without a closed head section reports
// ok=false and leaves the buffer untouched.
func TestFieldNames_Incomplete(t *testing.T) {
	t.Parallel()

	in := []byte("<table><thead><th>Campaign</th>")
	names, rest, ok := FieldNames(in)
	if ok || names != nil {
		t.Fatalf("expected no names, got %v", names)
	}
	if !bytes.Equal(rest, in) {
		t.Fatalf("rest = %q, want untouched input", rest)
	}
}

// TestExtractRows unescapes cells and ignores truncated trailing content.
func TestExtractRows(t *testing.T) {
	t.Parallel()

	in := []byte(`<tr><td>a</td><td>1</td></tr><tr><td>b &lt;2&gt;</td><td>2</td></tr><tr><td>trunca`)
	rows := ExtractRows(in)
	want := [][]string{{"a", "1"}, {"b <2>", "2"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

// TestWriteCSV: full quoting, embedded-quote doubling, and row width
// alignment to the field list.
func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	fields := []string{"name", "clicks"}
	rows := [][]string{
		{`say "hi"`, "10"},
		{"short-row"},
	}
	WriteCSV(&out, fields, rows, true)

	want := "\"name\",\"clicks\"\n" +
		"\"say \"\"hi\"\"\",\"10\"\n" +
		"\"short-row\",\"\"\n"
	if out.String() != want {
		t.Fatalf("WriteCSV =\n%q\nwant\n%q", out.String(), want)
	}
}

// TestRoundTrip_ChunkedEqualsWhole: extracting rows from repaired chunks
// must equal extracting from the unchunked concatenation. Chunk boundaries
// fall mid-row by construction.
func TestRoundTrip_ChunkedEqualsWhole(t *testing.T) {
	t.Parallel()

	whole := []byte(`<tr><td>r1</td></tr><tr><td>r2</td></tr><tr><td>r3</td></tr>`)
	direct := ExtractRows(whole)

	// Split mid-way through the second row's closing tag.
	cut := bytes.Index(whole, []byte("r2")) + 8
	var rows [][]string
	first := whole[:cut]
	if p := bytes.LastIndex(first, []byte("</tr>")); p != -1 {
		rows = append(rows, ExtractRows(first[:p+5])...)
		first = first[p+5:]
	}
	second := append(append([]byte(nil), first...), whole[cut:]...)
	rows = append(rows, ExtractRows(second)...)

	if !reflect.DeepEqual(rows, direct) {
		t.Fatalf("chunked rows = %v, direct = %v", rows, direct)
	}
}
