package warc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func responseFields(uri string) []field {
	return []field{
		{FieldRecordID, "<urn:uuid:00000000-0000-0000-0000-000000000001>"},
		{FieldType, TypeResponse},
		{FieldTargetURI, uri},
		{FieldDate, "2026-08-29T10:00:00Z"},
		{FieldContentType, "application/http; msgtype=response"},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	body := "hello, artifact"
	httpHeader := []byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n")

	written, err := writeRecord(&buf, responseFields("https://example.org/a"), httpHeader, strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("writeRecord() = %v", err)
	}
	if written != int64(buf.Len()) {
		t.Errorf("writeRecord() reported %d bytes, buffer has %d", written, buf.Len())
	}

	rec, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatalf("Next() = %v", err)
	}

	if rec.Offset != 0 {
		t.Errorf("Offset = %d, want 0", rec.Offset)
	}
	if rec.Length != written {
		t.Errorf("Length = %d, want %d", rec.Length, written)
	}
	if rec.Type() != TypeResponse {
		t.Errorf("Type() = %q, want response", rec.Type())
	}
	if rec.TargetURI() != "https://example.org/a" {
		t.Errorf("TargetURI() = %q", rec.TargetURI())
	}
	if rec.StatusLine != "HTTP/1.1 200 OK" {
		t.Errorf("StatusLine = %q", rec.StatusLine)
	}
	if rec.StatusCode() != 200 {
		t.Errorf("StatusCode() = %d, want 200", rec.StatusCode())
	}
	if got := rec.HTTPHeaders.Get("Content-Type"); got != "text/plain" {
		t.Errorf("http Content-Type = %q", got)
	}
	if rec.ContentLength != int64(len(body)) {
		t.Errorf("ContentLength = %d, want %d", rec.ContentLength, len(body))
	}

	content, err := io.ReadAll(rec.Content)
	if err != nil {
		t.Fatalf("reading content: %v", err)
	}
	if string(content) != body {
		t.Errorf("content = %q, want %q", content, body)
	}
}

func TestResourceRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	body := "raw bytes"
	fields := []field{
		{FieldRecordID, "<urn:uuid:00000000-0000-0000-0000-000000000002>"},
		{FieldType, TypeResource},
		{FieldTargetURI, "<https://example.org/r>"},
		{FieldContentType, "application/octet-stream"},
	}

	if _, err := writeRecord(&buf, fields, nil, strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("writeRecord() = %v", err)
	}

	rec, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatalf("Next() = %v", err)
	}
	if rec.Type() != TypeResource {
		t.Errorf("Type() = %q, want resource", rec.Type())
	}
	// Angle brackets are stripped.
	if rec.TargetURI() != "https://example.org/r" {
		t.Errorf("TargetURI() = %q", rec.TargetURI())
	}
	if rec.StatusLine != "" {
		t.Errorf("StatusLine = %q, want empty for resource", rec.StatusLine)
	}
	content, err := io.ReadAll(rec.Content)
	if err != nil {
		t.Fatalf("reading content: %v", err)
	}
	if string(content) != body {
		t.Errorf("content = %q, want %q", content, body)
	}
}

func TestSequentialOffsets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	bodies := []string{"first body", "second, longer body content", "third"}
	var lengths []int64
	for _, body := range bodies {
		httpHeader := []byte("HTTP/1.1 200 OK\r\n\r\n")
		n, err := writeRecord(&buf, responseFields("https://example.org/"+body[:5]), httpHeader, strings.NewReader(body), int64(len(body)))
		if err != nil {
			t.Fatalf("writeRecord() = %v", err)
		}
		lengths = append(lengths, n)
	}

	r := NewReader(&buf)
	var wantOffset int64
	for i := range bodies {
		// Content deliberately left unread; Next must drain it.
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() record %d = %v", i, err)
		}
		if rec.Offset != wantOffset {
			t.Errorf("record %d Offset = %d, want %d", i, rec.Offset, wantOffset)
		}
		if rec.Length != lengths[i] {
			t.Errorf("record %d Length = %d, want %d", i, rec.Length, lengths[i])
		}
		wantOffset += lengths[i]
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() after last record = %v, want io.EOF", err)
	}
}

func TestMalformedRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"not warc", "GARBAGE/1.0\r\nWarc-Type: response\r\n\r\n"},
		{"bad header line", "WARC/1.0\r\nno colon here\r\n\r\n"},
		{"missing content length", "WARC/1.0\r\nWarc-Type: response\r\n\r\n"},
		{"negative content length", "WARC/1.0\r\nContent-Length: -5\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReader(strings.NewReader(tt.input)).Next()
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("Next() = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want int
	}{
		{"HTTP/1.1 200 OK", 200},
		{"HTTP/1.1 404 Not Found", 404},
		{"HTTP/1.1 503", 503},
		{"", 0},
		{"HTTP/1.1", 0},
		{"HTTP/1.1 abc OK", 0},
	}
	for _, tt := range tests {
		rec := &Record{StatusLine: tt.line}
		if got := rec.StatusCode(); got != tt.want {
			t.Errorf("StatusCode(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
