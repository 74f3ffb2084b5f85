package importer

import (
	"bufio"
	"encoding/json"
	"iter"
	"os"

	"github.com/preservio/arcrepo/infrastructure/logging"
)

// Status outcomes for one archive record.
const (
	StatusOK        = "OK"
	StatusDuplicate = "DUPLICATE"
	StatusExcluded  = "EXCLUDED"
	StatusError     = "ERROR"
)

// Status reports the outcome of importing one archive record.
type Status struct {
	// WarcID is the record's WARC-Record-ID.
	WarcID string `json:"warcId,omitempty"`

	// Offset is the record's byte offset in the archive stream.
	Offset int64 `json:"offset"`

	// URL is the record's target URI.
	URL string `json:"url,omitempty"`

	// ArtifactUUID names the stored artifact for OK, or the existing
	// identical artifact for DUPLICATE.
	ArtifactUUID string `json:"artifactUuid,omitempty"`

	// Digest is the content digest of that artifact.
	Digest string `json:"digest,omitempty"`

	// Version is the version of that artifact.
	Version int `json:"version,omitempty"`

	// Status is one of OK, DUPLICATE, EXCLUDED, ERROR.
	Status string `json:"status"`

	// Error describes the failure for ERROR statuses.
	Error string `json:"error,omitempty"`
}

// spill buffers statuses in a temp file so import memory stays bounded
// regardless of archive size.
type spill struct {
	f *os.File
	w *bufio.Writer
}

func newSpill() (*spill, error) {
	f, err := os.CreateTemp("", "arcrepo-import-*")
	if err != nil {
		return nil, err
	}
	return &spill{f: f, w: bufio.NewWriter(f)}, nil
}

// add appends one status record.
func (s *spill) add(st Status) error {
	line, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// discard removes the buffer without draining it.
func (s *spill) discard() {
	s.f.Close()           // #nosec G104 -- best-effort temp cleanup
	os.Remove(s.f.Name()) // #nosec G104 -- best-effort temp cleanup
}

// drain returns a lazy, single-pass sequence over the buffered statuses.
// The backing file is removed when iteration finishes or is abandoned.
func (s *spill) drain() iter.Seq[Status] {
	return func(yield func(Status) bool) {
		defer s.discard()

		if err := s.w.Flush(); err != nil {
			logging.Warn().Err(err).Msg("flushing import status buffer")
			return
		}
		if _, err := s.f.Seek(0, 0); err != nil {
			logging.Warn().Err(err).Msg("rewinding import status buffer")
			return
		}

		scanner := bufio.NewScanner(s.f)
		scanner.Buffer(make([]byte, 64*1024), 4<<20)
		for scanner.Scan() {
			var st Status
			if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
				continue
			}
			if !yield(st) {
				return
			}
		}
	}
}
