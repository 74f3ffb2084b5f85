// Package index defines the queryable artifact metadata catalog.
// Implementations are in infrastructure.
package index

import (
	"context"
	"io"

	"github.com/preservio/arcrepo/domain/artifact"
)

// Index is the secondary catalog of artifact metadata. It must stay
// consistent with the durable data store; the commit journal and reindex
// paths exist to restore that consistency after a crash or index loss.
//
// Listing operations return version-ordered slices; callers that need a
// restartable lazy sequence re-issue the query.
type Index interface {
	// Add inserts an artifact record. Adding a UUID that is already
	// present is a no-op, which makes journal replay idempotent.
	Add(ctx context.Context, a artifact.Artifact) error

	// Get returns the latest version of the stem's artifact that meets
	// the visibility rule. Returns artifact.ErrNotFound if no version
	// is visible.
	Get(ctx context.Context, namespace, auid, uri string, includeUncommitted bool) (artifact.Artifact, error)

	// GetVersion returns one specific version of a stem's artifact.
	GetVersion(ctx context.Context, namespace, auid, uri string, version int, includeUncommitted bool) (artifact.Artifact, error)

	// GetByUUID returns the artifact with the given UUID regardless of
	// commit state.
	GetByUUID(ctx context.Context, uuid string) (artifact.Artifact, error)

	// List returns the latest committed version of every URI in the AU,
	// ordered by URI.
	List(ctx context.Context, namespace, auid string) ([]artifact.Artifact, error)

	// ListAllVersions returns every version of every URI in the AU,
	// ordered by URI then by descending version.
	ListAllVersions(ctx context.Context, namespace, auid string, includeUncommitted bool) ([]artifact.Artifact, error)

	// ListWithPrefix returns the latest committed version of every URI
	// in the AU whose URI starts with prefix.
	ListWithPrefix(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error)

	// ListWithPrefixAllVersions is ListWithPrefix over all versions.
	ListWithPrefixAllVersions(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error)

	// ListAllVersionsAllAus returns every committed version of the given
	// URI across all AUs in the namespace.
	ListAllVersionsAllAus(ctx context.Context, namespace, uri string) ([]artifact.Artifact, error)

	// ListWithPrefixAllAus returns every committed artifact whose URI
	// starts with prefix, across all AUs in the namespace.
	ListWithPrefixAllAus(ctx context.Context, namespace, prefix string) ([]artifact.Artifact, error)

	// Commit marks the artifact committed. Idempotent: committing an
	// already-committed artifact returns it unchanged. Unknown UUID
	// returns artifact.ErrNotFound.
	Commit(ctx context.Context, uuid string) (artifact.Artifact, error)

	// UpdateStorageURL overwrites the artifact's storage locator.
	UpdateStorageURL(ctx context.Context, uuid, storageURL string) (artifact.Artifact, error)

	// Delete removes the artifact record. Unknown UUID returns
	// artifact.ErrNotFound.
	Delete(ctx context.Context, uuid string) error

	// AuSize aggregates content sizes for one AU.
	AuSize(ctx context.Context, namespace, auid string) (AuSize, error)

	// Namespaces returns all namespaces known to the index.
	Namespaces(ctx context.Context) ([]string, error)

	// AuIDs returns all AU identifiers within a namespace.
	AuIDs(ctx context.Context, namespace string) ([]string, error)

	io.Closer
}

// AuSize aggregates artifact content sizes for one archival unit.
type AuSize struct {
	// TotalLatestVersions sums the content lengths of the latest
	// committed version of each URI.
	TotalLatestVersions int64 `json:"totalLatestVersions"`

	// TotalAllVersions sums the content lengths of every committed
	// version of every URI.
	TotalAllVersions int64 `json:"totalAllVersions"`
}
