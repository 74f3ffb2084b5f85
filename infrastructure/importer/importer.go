// Package importer provides streaming bulk ingestion of WARC archives
// into the artifact repository, with per-record status and dedup.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/infrastructure/logging"
	"github.com/preservio/arcrepo/infrastructure/warc"
)

// TypeWARC is the only archive container type currently supported.
const TypeWARC = "warc"

// Repository is the slice of the facade the importer drives,
// record by record.
type Repository interface {
	// AddArtifact runs the full add path, assigning version and UUID.
	AddArtifact(ctx context.Context, data *artifact.Data) (artifact.Artifact, error)

	// CommitArtifact makes an added artifact permanent.
	CommitArtifact(ctx context.Context, namespace, uuid string) (artifact.Artifact, error)

	// DeleteArtifact abandons an uncommitted artifact.
	DeleteArtifact(ctx context.Context, namespace, uuid string) error

	// FindDuplicate reports whether the candidate's content is
	// byte-identical to the latest committed version of its stem,
	// returning that existing artifact when it is.
	FindDuplicate(ctx context.Context, candidate artifact.Artifact) (artifact.Artifact, bool, error)
}

// Options configures one import call.
type Options struct {
	// Type is the archive container type. Empty means TypeWARC.
	Type string

	// StoreDuplicate stores content-identical versions instead of
	// abandoning them.
	StoreDuplicate bool

	// ExcludeStatusPattern skips records whose HTTP status code matches
	// the regular expression.
	ExcludeStatusPattern string
}

// gzipMagic is the two-byte gzip stream signature.
var gzipMagic = []byte{0x1f, 0x8b}

// Import ingests every response/resource record of the archive into the
// repository. Statuses are spilled to disk as records are processed and
// returned as a lazy, finite, single-pass sequence, so memory stays
// bounded regardless of archive size.
//
// A failure to open or parse the archive container aborts the call;
// failures while processing one record produce an ERROR status for that
// record only.
func Import(ctx context.Context, repo Repository, namespace, auid string, archive io.Reader, opts Options) (iter.Seq[Status], error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if opts.Type != "" && opts.Type != TypeWARC {
		return nil, fmt.Errorf("%w: unsupported archive type %q", artifact.ErrInvalidArtifact, opts.Type)
	}

	var exclude *regexp.Regexp
	if opts.ExcludeStatusPattern != "" {
		var err error
		exclude, err = regexp.Compile(opts.ExcludeStatusPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad exclude pattern: %w", artifact.ErrInvalidArtifact, err)
		}
	}

	stream, err := maybeGunzip(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: opening archive: %w", artifact.ErrStorage, err)
	}

	buf, err := newSpill()
	if err != nil {
		return nil, err
	}

	if err := run(ctx, repo, namespace, auid, warc.NewReader(stream), opts.StoreDuplicate, exclude, buf); err != nil {
		buf.discard()
		return nil, err
	}
	return buf.drain(), nil
}

// maybeGunzip inspects the stream's leading magic bytes without
// consuming them and wraps gzip-compressed input transparently.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(2)
	if err != nil {
		if err == io.EOF {
			return br, nil // empty or tiny archive; let the parser decide
		}
		return nil, err
	}
	if magic[0] != gzipMagic[0] || magic[1] != gzipMagic[1] {
		return br, nil
	}

	gz, err := gzip.NewReader(br)
	if err != nil {
		return nil, err
	}
	// Concatenated gzip members are common in .warc.gz files (one
	// member per record).
	gz.Multistream(true)
	return gz, nil
}

// run drives the record loop, writing one status per processed record.
func run(ctx context.Context, repo Repository, namespace, auid string, r *warc.Reader, storeDuplicate bool, exclude *regexp.Regexp, buf *spill) error {
	first := true
	inError := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if first {
				// Nothing parseable at the head of the stream: the
				// container itself is unreadable.
				return fmt.Errorf("%w: parsing archive: %w", artifact.ErrStorage, err)
			}
			// One malformed record may surface as several parse
			// errors while the reader resynchronizes; report it once.
			if !inError {
				inError = true
				if err := buf.add(Status{Status: StatusError, Error: err.Error()}); err != nil {
					return err
				}
			}
			continue
		}
		first = false
		inError = false

		if t := rec.Type(); t != warc.TypeResponse && t != warc.TypeResource {
			continue
		}

		if err := buf.add(process(ctx, repo, namespace, auid, rec, storeDuplicate, exclude)); err != nil {
			return err
		}
	}
}

// process runs one record through the add/dedup/commit path. Failures
// are converted to an ERROR status; processing continues with the next
// record.
func process(ctx context.Context, repo Repository, namespace, auid string, rec *warc.Record, storeDuplicate bool, exclude *regexp.Regexp) Status {
	st := Status{
		WarcID: rec.Fields.Get(warc.FieldRecordID),
		Offset: rec.Offset,
		URL:    rec.TargetURI(),
	}

	if exclude != nil {
		if code := rec.StatusCode(); code != 0 && exclude.MatchString(strconv.Itoa(code)) {
			st.Status = StatusExcluded
			return st
		}
	}

	data := &artifact.Data{
		Artifact: artifact.Artifact{
			Identifier: artifact.Identifier{
				Namespace: namespace,
				AUID:      auid,
				URI:       st.URL,
			},
			CollectionDate: recordCollectionDate(rec),
		},
		StatusLine: rec.StatusLine,
		Headers:    rec.HTTPHeaders,
		Content:    io.NopCloser(rec.Content),
	}

	added, err := repo.AddArtifact(ctx, data)
	if err != nil {
		st.Status = StatusError
		st.Error = err.Error()
		return st
	}

	if !storeDuplicate {
		existing, dup, err := repo.FindDuplicate(ctx, added)
		if err != nil {
			st.Status = StatusError
			st.Error = err.Error()
			return st
		}
		if dup {
			if err := repo.DeleteArtifact(ctx, namespace, added.UUID); err != nil {
				logging.Warn().Str("uuid", added.UUID).Err(err).Msg("abandoning duplicate failed")
			}
			st.Status = StatusDuplicate
			st.ArtifactUUID = existing.UUID
			st.Digest = existing.ContentDigest
			st.Version = existing.Version
			return st
		}
	}

	committed, err := repo.CommitArtifact(ctx, namespace, added.UUID)
	if err != nil {
		st.Status = StatusError
		st.Error = err.Error()
		return st
	}

	st.Status = StatusOK
	st.ArtifactUUID = committed.UUID
	st.Digest = committed.ContentDigest
	st.Version = committed.Version
	return st
}

// recordCollectionDate extracts the capture time in epoch milliseconds,
// preferring the artifact extension field over WARC-Date.
func recordCollectionDate(rec *warc.Record) int64 {
	if v := rec.Fields.Get(warc.FieldCollectionDate); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms
		}
	}
	if v := rec.Fields.Get(warc.FieldDate); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
