// Package warc implements the WARC-style append-only data store backing
// artifact bytes, and the record codec shared with archive import.
package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// WARC header field names used by the store. The X-Artifact fields are
// extension fields carrying the repository identity of each record.
const (
	FieldRecordID       = "Warc-Record-Id"
	FieldType           = "Warc-Type"
	FieldTargetURI      = "Warc-Target-Uri"
	FieldDate           = "Warc-Date"
	FieldContentType    = "Content-Type"
	FieldContentLength  = "Content-Length"
	FieldNamespace      = "X-Artifact-Namespace"
	FieldAUID           = "X-Artifact-Auid"
	FieldVersion        = "X-Artifact-Version"
	FieldDigest         = "X-Artifact-Digest"
	FieldCollectionDate = "X-Artifact-Collection-Date"
)

// WARC record types handled by the store and importer.
const (
	TypeResponse = "response"
	TypeResource = "resource"
)

const (
	warcVersion = "WARC/1.0"
	crlf        = "\r\n"
)

// ErrMalformedRecord indicates a record that cannot be parsed.
var ErrMalformedRecord = errors.New("malformed WARC record")

// Record is one parsed WARC record. Content must be fully consumed (or
// the reader advanced with Next) before reading the following record.
type Record struct {
	// Offset is the byte offset of the record in the stream.
	Offset int64

	// Length is the total encoded length including the separator.
	Length int64

	// Fields are the WARC header fields, canonicalized MIME-style.
	Fields textproto.MIMEHeader

	// StatusLine is the HTTP status line for response records, empty
	// for resource records.
	StatusLine string

	// HTTPHeaders are the response headers for response records.
	HTTPHeaders http.Header

	// Content is the raw content stream, limited to ContentLength bytes.
	Content io.Reader

	// ContentLength is the raw content size in bytes.
	ContentLength int64
}

// Type returns the record's WARC-Type field.
func (r *Record) Type() string {
	return r.Fields.Get(FieldType)
}

// TargetURI returns the record's target URI with any enclosing angle
// brackets stripped.
func (r *Record) TargetURI() string {
	uri := r.Fields.Get(FieldTargetURI)
	if strings.HasPrefix(uri, "<") && strings.HasSuffix(uri, ">") {
		uri = uri[1 : len(uri)-1]
	}
	return uri
}

// StatusCode returns the numeric HTTP status for response records, or 0.
func (r *Record) StatusCode() int {
	parts := strings.SplitN(r.StatusLine, " ", 3)
	if len(parts) < 2 {
		return 0
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return code
}

// Reader iterates WARC records sequentially over a byte stream, tracking
// exact byte offsets.
type Reader struct {
	br     *bufio.Reader
	offset int64

	// remainder of the current record's block, drained on Next.
	block *io.LimitedReader
}

// NewReader creates a record reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// readLine reads one CRLF- or LF-terminated line, counting raw bytes.
func (r *Reader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	r.offset += int64(len(line))
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		if err == io.EOF {
			return "", fmt.Errorf("%w: truncated line", ErrMalformedRecord)
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Next parses the next record. Any unread content of the previous record
// is drained first. Returns io.EOF at the end of the stream.
func (r *Reader) Next() (*Record, error) {
	if r.block != nil {
		// Block bytes were already counted when the record was parsed.
		if _, err := io.Copy(io.Discard, r.block); err != nil {
			return nil, err
		}
		r.block = nil
		// Record separator: two blank lines.
		for range 2 {
			if _, err := r.readLine(); err != nil && err != io.EOF {
				return nil, err
			}
		}
	}

	// Skip stray blank lines, then expect the version line.
	var line string
	var err error
	var start int64
	for {
		start = r.offset
		line, err = r.readLine()
		if err != nil {
			return nil, err
		}
		if line != "" {
			break
		}
	}
	if !strings.HasPrefix(line, "WARC/") {
		return nil, fmt.Errorf("%w: expected version line, got %q", ErrMalformedRecord, line)
	}

	fields := make(textproto.MIMEHeader)
	for {
		line, err = r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformedRecord, line)
		}
		fields.Add(textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value))
	}

	blockLen, err := strconv.ParseInt(fields.Get(FieldContentLength), 10, 64)
	if err != nil || blockLen < 0 {
		return nil, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedRecord, fields.Get(FieldContentLength))
	}

	rec := &Record{
		Offset: start,
		Fields: fields,
		// Header bytes + block + CRLF CRLF separator.
		Length: (r.offset - start) + blockLen + 4,
	}

	r.block = &io.LimitedReader{R: r.br, N: blockLen}
	r.offset += blockLen // content is consumed through the limited reader

	if strings.Contains(fields.Get(FieldContentType), "msgtype=response") {
		if err := parseHTTPBlock(rec, r.block, blockLen); err != nil {
			return nil, err
		}
	} else {
		rec.Content = r.block
		rec.ContentLength = blockLen
	}
	return rec, nil
}

// parseHTTPBlock splits an application/http block into status line,
// headers, and content.
func parseHTTPBlock(rec *Record, block io.Reader, blockLen int64) error {
	bb := bufio.NewReader(block)

	status, err := bb.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: truncated http block", ErrMalformedRecord)
	}
	consumed := int64(len(status))
	rec.StatusLine = strings.TrimRight(status, "\r\n")

	headers := make(http.Header)
	for {
		line, err := bb.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: truncated http headers", ErrMalformedRecord)
		}
		consumed += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("%w: bad http header line %q", ErrMalformedRecord, line)
		}
		headers.Add(name, strings.TrimSpace(value))
	}

	rec.HTTPHeaders = headers
	rec.Content = bb
	rec.ContentLength = blockLen - consumed
	return nil
}

// writeRecord encodes one record: WARC header fields, then the block.
// The block for response records is the HTTP message (status line,
// headers, content); for resource records it is the raw content.
// Returns the total number of bytes written including the separator.
func writeRecord(w io.Writer, fields []field, httpHeader []byte, content io.Reader, contentLen int64) (int64, error) {
	var head strings.Builder
	head.WriteString(warcVersion + crlf)
	for _, f := range fields {
		head.WriteString(f.name + ": " + f.value + crlf)
	}
	blockLen := int64(len(httpHeader)) + contentLen
	head.WriteString(FieldContentLength + ": " + strconv.FormatInt(blockLen, 10) + crlf)
	head.WriteString(crlf)

	var written int64
	n, err := io.WriteString(w, head.String())
	written += int64(n)
	if err != nil {
		return written, err
	}
	if len(httpHeader) > 0 {
		n, err := w.Write(httpHeader)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	cn, err := io.Copy(w, content)
	written += cn
	if err != nil {
		return written, err
	}
	if cn != contentLen {
		return written, fmt.Errorf("short content: wrote %d of %d bytes", cn, contentLen)
	}
	n, err = io.WriteString(w, crlf+crlf)
	written += int64(n)
	return written, err
}

// field is one WARC header field in write order.
type field struct {
	name  string
	value string
}
