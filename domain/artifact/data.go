package artifact

import (
	"io"
	"net/http"
)

// Data is the unit handled by the data store and by archive import: an
// artifact plus its response-style headers, status line, and content stream.
type Data struct {
	// Artifact carries the identifier and storage metadata. Before the
	// data store has persisted the record the storage fields are empty.
	Artifact Artifact

	// StatusLine is the HTTP-style status line of the capture, e.g.
	// "HTTP/1.1 200 OK". Empty for resource records with no response.
	StatusLine string

	// Headers are the response-style headers recorded with the capture.
	Headers http.Header

	// Content is the raw content stream. Re-reading requires a fresh
	// open through the data store; the stream is not seekable.
	Content io.ReadCloser
}

// Close releases the content stream if one is attached.
func (d *Data) Close() error {
	if d.Content == nil {
		return nil
	}
	return d.Content.Close()
}
