// Package application composes the artifact index, data store, version
// lock table, and commit journal into the public repository facade.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
	"github.com/preservio/arcrepo/domain/storage"
	"github.com/preservio/arcrepo/infrastructure/importer"
	"github.com/preservio/arcrepo/infrastructure/journal"
	"github.com/preservio/arcrepo/infrastructure/logging"
	"github.com/preservio/arcrepo/infrastructure/vlock"
)

// Repository is the public facade over the artifact repository. All
// mutating and most read operations are gated on readiness: startup
// recovery (reindex or journal replay) must finish first.
type Repository struct {
	idx         index.Index
	store       storage.DataStore
	locks       *vlock.Table
	journalPath string
	jrnl        *journal.Journal

	// Highest version ever abandoned per stem. Version numbers consumed
	// by deleted uncommitted artifacts are never handed out again, so a
	// deduplicated add leaves a permanent gap in the stem's sequence.
	gapsMu sync.Mutex
	gaps   map[string]int

	forceReindex bool
	ready        atomic.Bool
}

// New creates a repository facade. An index and a data store are
// required; the lock table defaults to a table of default size.
func New(opts ...Option) (*Repository, error) {
	r := &Repository{gaps: make(map[string]int)}
	for _, opt := range opts {
		opt(r)
	}
	if r.idx == nil {
		return nil, errors.New("application: an index backend is required")
	}
	if r.store == nil {
		return nil, errors.New("application: a data store is required")
	}
	if r.locks == nil {
		r.locks = vlock.NewTable(vlock.DefaultStripes)
	}
	return r, nil
}

// Init runs startup recovery and marks the repository ready. If the
// index is empty or explicitly marked for rebuild, it is reconstructed
// from the data store; otherwise a prior journal, if present, is
// replayed. Mutating operations issued before Init completes are
// rejected.
func (r *Repository) Init(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}

	needReindex := r.forceReindex
	if !needReindex {
		namespaces, err := r.idx.Namespaces(ctx)
		if err != nil {
			return fmt.Errorf("probing index: %w", err)
		}
		needReindex = len(namespaces) == 0
	}

	if needReindex {
		logging.Info().Bool("forced", r.forceReindex).Msg("rebuilding index from data store")
		if err := r.store.Reindex(ctx, r.idx); err != nil {
			return err
		}
		// A stale journal predates the rebuild; move it aside so it is
		// neither replayed nor appended to.
		if r.journalPath != "" {
			if _, err := os.Stat(r.journalPath); err == nil {
				if err := os.Rename(r.journalPath, r.journalPath+journal.ReplayedSuffix); err != nil {
					return fmt.Errorf("%w: setting aside stale journal: %w", artifact.ErrStorage, err)
				}
			}
		}
	} else if r.journalPath != "" {
		if _, err := os.Stat(r.journalPath); err == nil {
			if _, _, err := journal.Replay(ctx, r.journalPath, r.idx); err != nil {
				return err
			}
		}
	}

	if r.journalPath != "" {
		j, err := journal.Open(r.journalPath)
		if err != nil {
			return err
		}
		r.jrnl = j
	}

	r.ready.Store(true)
	logging.Info().Msg("repository ready")
	return nil
}

// IsReady reports whether startup recovery has completed.
func (r *Repository) IsReady() bool {
	return r.ready.Load()
}

// Shutdown marks the repository unavailable and releases its resources.
func (r *Repository) Shutdown(ctx context.Context) error {
	r.ready.Store(false)

	var errs []error
	if r.jrnl != nil {
		errs = append(errs, r.jrnl.Close())
		r.jrnl = nil
	}
	errs = append(errs, r.store.Close(), r.idx.Close())
	return errors.Join(errs...)
}

// checkReady rejects operations until startup recovery has completed.
func (r *Repository) checkReady() error {
	if !r.ready.Load() {
		return artifact.ErrNotReady
	}
	return nil
}

// AddArtifact assigns the next version for the stem under the version
// lock, persists the bytes, journals the addition, and indexes the new
// uncommitted artifact.
//
// The lock is held through the data-store write, serializing all writes
// to one stem; writes to different stems proceed in parallel.
func (r *Repository) AddArtifact(ctx context.Context, data *artifact.Data) (artifact.Artifact, error) {
	if err := r.checkReady(); err != nil {
		return artifact.Artifact{}, err
	}
	if data == nil {
		return artifact.Artifact{}, artifact.ErrInvalidArtifact
	}
	id := data.Artifact.Identifier
	if err := artifact.ValidateNamespace(id.Namespace); err != nil {
		return artifact.Artifact{}, err
	}
	if id.AUID == "" || id.URI == "" {
		return artifact.Artifact{}, fmt.Errorf("%w: auid and uri are required", artifact.ErrInvalidArtifact)
	}

	stem := id.Stem()
	var stored artifact.Artifact
	err := r.locks.WithLock(ctx, stem.Key(), func(ctx context.Context) error {
		version := 1
		latest, err := r.idx.Get(ctx, stem.Namespace, stem.AUID, stem.URI, true)
		switch {
		case err == nil:
			version = latest.Version + 1
		case errors.Is(err, artifact.ErrNotFound):
		default:
			return fmt.Errorf("reading latest version: %w", err)
		}

		r.gapsMu.Lock()
		if abandoned := r.gaps[stem.Key()]; abandoned >= version {
			version = abandoned + 1
		}
		r.gapsMu.Unlock()

		data.Artifact.UUID = uuid.New().String()
		data.Artifact.Version = version
		data.Artifact.Committed = false
		if data.Artifact.CollectionDate == 0 {
			data.Artifact = artifact.New(data.Artifact.Identifier)
		}

		stored, err = r.store.AddArtifactData(ctx, data)
		if err != nil {
			return err
		}

		if r.jrnl != nil {
			if err := r.jrnl.Add(stored); err != nil {
				return err
			}
		}
		return r.idx.Add(ctx, stored)
	})
	if err != nil {
		return artifact.Artifact{}, err
	}

	logging.Debug().Str("uuid", stored.UUID).Str("uri", stored.URI).Int("version", stored.Version).Msg("artifact added")
	return stored, nil
}

// CommitArtifact makes an artifact permanent. Committing an
// already-committed artifact is a no-op returning it unchanged.
func (r *Repository) CommitArtifact(ctx context.Context, namespace, artifactUUID string) (artifact.Artifact, error) {
	a, err := r.lookup(ctx, namespace, artifactUUID)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if a.Committed {
		return a, nil
	}

	if r.jrnl != nil {
		if err := r.jrnl.Committed(artifactUUID); err != nil {
			return artifact.Artifact{}, err
		}
	}
	if err := r.store.CommitArtifactData(ctx, a); err != nil {
		return artifact.Artifact{}, fmt.Errorf("committing artifact data: %w", err)
	}
	committed, err := r.idx.Commit(ctx, artifactUUID)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("committing artifact in index: %w", err)
	}

	logging.Debug().Str("uuid", artifactUUID).Msg("artifact committed")
	return committed, nil
}

// DeleteArtifact removes an artifact irreversibly: durable bytes, state,
// and index entry. There is no soft delete.
func (r *Repository) DeleteArtifact(ctx context.Context, namespace, artifactUUID string) error {
	a, err := r.lookup(ctx, namespace, artifactUUID)
	if err != nil {
		return err
	}

	if r.jrnl != nil {
		if err := r.jrnl.Delete(artifactUUID); err != nil {
			return err
		}
	}
	if err := r.store.DeleteArtifactData(ctx, a); err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("deleting artifact data: %w", err)
	}
	if err := r.idx.Delete(ctx, artifactUUID); err != nil {
		return fmt.Errorf("deleting artifact from index: %w", err)
	}

	if !a.Committed {
		key := a.Identifier.Stem().Key()
		r.gapsMu.Lock()
		if a.Version > r.gaps[key] {
			r.gaps[key] = a.Version
		}
		r.gapsMu.Unlock()
	}

	logging.Debug().Str("uuid", artifactUUID).Msg("artifact deleted")
	return nil
}

// lookup validates readiness and namespace, then resolves the UUID,
// checking it belongs to the namespace.
func (r *Repository) lookup(ctx context.Context, namespace, artifactUUID string) (artifact.Artifact, error) {
	if err := r.checkReady(); err != nil {
		return artifact.Artifact{}, err
	}
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return artifact.Artifact{}, err
	}

	a, err := r.idx.GetByUUID(ctx, artifactUUID)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if a.Namespace != namespace {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	return a, nil
}

// FindDuplicate reports whether the candidate's content is byte-identical
// to the latest committed version of its stem. Applicable only to
// candidates at version 2 or later with a known digest. A duplicate is
// abandoned by deleting it while still uncommitted; the version number
// it consumed is not reused, leaving a permanent gap in the stem.
func (r *Repository) FindDuplicate(ctx context.Context, candidate artifact.Artifact) (artifact.Artifact, bool, error) {
	if err := r.checkReady(); err != nil {
		return artifact.Artifact{}, false, err
	}
	if candidate.Version < 2 || candidate.ContentDigest == "" {
		return artifact.Artifact{}, false, nil
	}

	// Committed-only lookup: the uncommitted candidate itself is not
	// visible here.
	prev, err := r.idx.Get(ctx, candidate.Namespace, candidate.AUID, candidate.URI, false)
	if errors.Is(err, artifact.ErrNotFound) {
		return artifact.Artifact{}, false, nil
	}
	if err != nil {
		return artifact.Artifact{}, false, err
	}
	if prev.UUID != candidate.UUID && prev.ContentDigest == candidate.ContentDigest {
		return prev, true, nil
	}
	return artifact.Artifact{}, false, nil
}

// GetArtifact returns the latest committed version for the stem.
func (r *Repository) GetArtifact(ctx context.Context, namespace, auid, uri string) (artifact.Artifact, error) {
	if err := r.checkReady(); err != nil {
		return artifact.Artifact{}, err
	}
	return r.idx.Get(ctx, namespace, auid, uri, false)
}

// GetArtifactVersion returns one specific version for the stem.
func (r *Repository) GetArtifactVersion(ctx context.Context, namespace, auid, uri string, version int, includeUncommitted bool) (artifact.Artifact, error) {
	if err := r.checkReady(); err != nil {
		return artifact.Artifact{}, err
	}
	return r.idx.GetVersion(ctx, namespace, auid, uri, version, includeUncommitted)
}

// GetArtifactData re-opens the stored bytes and headers of an artifact.
func (r *Repository) GetArtifactData(ctx context.Context, namespace, artifactUUID string) (*artifact.Data, error) {
	a, err := r.lookup(ctx, namespace, artifactUUID)
	if err != nil {
		return nil, err
	}
	return r.store.GetArtifactData(ctx, a)
}

// listSeq wraps an index query as a lazy, restartable sequence: each
// iteration re-issues the query.
func (r *Repository) listSeq(ctx context.Context, query func(context.Context) ([]artifact.Artifact, error)) iter.Seq2[artifact.Artifact, error] {
	return func(yield func(artifact.Artifact, error) bool) {
		if err := r.checkReady(); err != nil {
			yield(artifact.Artifact{}, err)
			return
		}
		artifacts, err := query(ctx)
		if err != nil {
			yield(artifact.Artifact{}, err)
			return
		}
		for _, a := range artifacts {
			if !yield(a, nil) {
				return
			}
		}
	}
}

// GetArtifacts lists the latest committed version of every URI in the AU.
func (r *Repository) GetArtifacts(ctx context.Context, namespace, auid string) iter.Seq2[artifact.Artifact, error] {
	return r.listSeq(ctx, func(ctx context.Context) ([]artifact.Artifact, error) {
		return r.idx.List(ctx, namespace, auid)
	})
}

// GetArtifactsAllVersions lists every committed version in the AU.
func (r *Repository) GetArtifactsAllVersions(ctx context.Context, namespace, auid string) iter.Seq2[artifact.Artifact, error] {
	return r.listSeq(ctx, func(ctx context.Context) ([]artifact.Artifact, error) {
		return r.idx.ListAllVersions(ctx, namespace, auid, false)
	})
}

// GetArtifactsWithPrefix lists the latest committed version of matching
// URIs in the AU.
func (r *Repository) GetArtifactsWithPrefix(ctx context.Context, namespace, auid, prefix string) iter.Seq2[artifact.Artifact, error] {
	return r.listSeq(ctx, func(ctx context.Context) ([]artifact.Artifact, error) {
		return r.idx.ListWithPrefix(ctx, namespace, auid, prefix)
	})
}

// GetArtifactsWithPrefixAllVersions lists every committed version of
// matching URIs in the AU.
func (r *Repository) GetArtifactsWithPrefixAllVersions(ctx context.Context, namespace, auid, prefix string) iter.Seq2[artifact.Artifact, error] {
	return r.listSeq(ctx, func(ctx context.Context) ([]artifact.Artifact, error) {
		return r.idx.ListWithPrefixAllVersions(ctx, namespace, auid, prefix)
	})
}

// GetArtifactsAllVersionsAllAus lists every committed version of the URI
// across all AUs in the namespace.
func (r *Repository) GetArtifactsAllVersionsAllAus(ctx context.Context, namespace, uri string) iter.Seq2[artifact.Artifact, error] {
	return r.listSeq(ctx, func(ctx context.Context) ([]artifact.Artifact, error) {
		return r.idx.ListAllVersionsAllAus(ctx, namespace, uri)
	})
}

// GetArtifactsWithPrefixAllAus lists every committed artifact with the
// URI prefix across all AUs in the namespace.
func (r *Repository) GetArtifactsWithPrefixAllAus(ctx context.Context, namespace, prefix string) iter.Seq2[artifact.Artifact, error] {
	return r.listSeq(ctx, func(ctx context.Context) ([]artifact.Artifact, error) {
		return r.idx.ListWithPrefixAllAus(ctx, namespace, prefix)
	})
}

// AuSize aggregates committed content sizes for one AU.
func (r *Repository) AuSize(ctx context.Context, namespace, auid string) (index.AuSize, error) {
	if err := r.checkReady(); err != nil {
		return index.AuSize{}, err
	}
	return r.idx.AuSize(ctx, namespace, auid)
}

// Namespaces returns all namespaces known to the repository.
func (r *Repository) Namespaces(ctx context.Context) ([]string, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return r.idx.Namespaces(ctx)
}

// AuIDs returns all AU identifiers within a namespace.
func (r *Repository) AuIDs(ctx context.Context, namespace string) ([]string, error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return r.idx.AuIDs(ctx, namespace)
}

// StorageInfo reports capacity and usage of the data store.
func (r *Repository) StorageInfo(ctx context.Context) (storage.Info, error) {
	if err := r.checkReady(); err != nil {
		return storage.Info{}, err
	}
	return r.store.StorageInfo(ctx)
}

// Info combines data store and index summaries.
type Info struct {
	Ready      bool         `json:"ready"`
	Store      storage.Info `json:"store"`
	Namespaces []string     `json:"namespaces"`
}

// RepositoryInfo reports an overall summary of the repository.
func (r *Repository) RepositoryInfo(ctx context.Context) (Info, error) {
	storeInfo, err := r.StorageInfo(ctx)
	if err != nil {
		return Info{}, err
	}
	namespaces, err := r.idx.Namespaces(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Ready:      r.IsReady(),
		Store:      storeInfo,
		Namespaces: namespaces,
	}, nil
}

// AddArtifacts bulk-imports a WARC archive stream into one AU. Statuses
// are produced per record as a lazy, single-pass sequence; a consumer
// may stop early without losing already-produced statuses.
func (r *Repository) AddArtifacts(ctx context.Context, namespace, auid string, archive io.Reader, opts importer.Options) (iter.Seq[importer.Status], error) {
	if err := r.checkReady(); err != nil {
		return nil, err
	}
	return importer.Import(ctx, r, namespace, auid, archive, opts)
}

// Ensure the facade satisfies the importer's view of it.
var _ importer.Repository = (*Repository)(nil)
