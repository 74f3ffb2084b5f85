// Package memory provides an in-memory implementation of index.Index.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
)

// Index is an in-memory implementation of index.Index. Safe for
// concurrent use.
type Index struct {
	mu        sync.RWMutex
	artifacts map[string]artifact.Artifact // uuid -> record
	stems     map[artifact.Stem][]string   // stem -> uuids in ascending version order
}

// NewIndex creates a new in-memory index.
func NewIndex() *Index {
	return &Index{
		artifacts: make(map[string]artifact.Artifact),
		stems:     make(map[artifact.Stem][]string),
	}
}

// Add inserts an artifact record. Re-adding an existing UUID is a no-op.
func (x *Index) Add(ctx context.Context, a artifact.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.IsValid() {
		return artifact.ErrInvalidArtifact
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.artifacts[a.UUID]; ok {
		return nil
	}

	stem := a.Stem()
	x.artifacts[a.UUID] = a

	// Insert keeping ascending version order. Appends dominate because
	// versions are assigned monotonically.
	uuids := x.stems[stem]
	pos := len(uuids)
	for pos > 0 && x.artifacts[uuids[pos-1]].Version > a.Version {
		pos--
	}
	uuids = append(uuids, "")
	copy(uuids[pos+1:], uuids[pos:])
	uuids[pos] = a.UUID
	x.stems[stem] = uuids

	return nil
}

// Get returns the latest visible version for the stem.
func (x *Index) Get(ctx context.Context, namespace, auid, uri string, includeUncommitted bool) (artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return artifact.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	stem := artifact.Stem{Namespace: namespace, AUID: auid, URI: uri}
	uuids := x.stems[stem]
	for i := len(uuids) - 1; i >= 0; i-- {
		a := x.artifacts[uuids[i]]
		if a.Committed || includeUncommitted {
			return a, nil
		}
	}
	return artifact.Artifact{}, artifact.ErrNotFound
}

// GetVersion returns one specific version of a stem's artifact.
func (x *Index) GetVersion(ctx context.Context, namespace, auid, uri string, version int, includeUncommitted bool) (artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return artifact.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	stem := artifact.Stem{Namespace: namespace, AUID: auid, URI: uri}
	for _, id := range x.stems[stem] {
		a := x.artifacts[id]
		if a.Version == version && (a.Committed || includeUncommitted) {
			return a, nil
		}
	}
	return artifact.Artifact{}, artifact.ErrNotFound
}

// GetByUUID returns the artifact with the given UUID.
func (x *Index) GetByUUID(ctx context.Context, uuid string) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	a, ok := x.artifacts[uuid]
	if !ok {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	return a, nil
}

// List returns the latest committed version of every URI in the AU.
func (x *Index) List(ctx context.Context, namespace, auid string) ([]artifact.Artifact, error) {
	return x.collect(ctx, namespace, func(s artifact.Stem) bool {
		return s.AUID == auid
	}, latestCommitted)
}

// ListAllVersions returns every version of every URI in the AU.
func (x *Index) ListAllVersions(ctx context.Context, namespace, auid string, includeUncommitted bool) ([]artifact.Artifact, error) {
	return x.collect(ctx, namespace, func(s artifact.Stem) bool {
		return s.AUID == auid
	}, allVersions(includeUncommitted))
}

// ListWithPrefix returns the latest committed version of matching URIs in the AU.
func (x *Index) ListWithPrefix(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error) {
	return x.collect(ctx, namespace, func(s artifact.Stem) bool {
		return s.AUID == auid && strings.HasPrefix(s.URI, prefix)
	}, latestCommitted)
}

// ListWithPrefixAllVersions returns every committed version of matching URIs in the AU.
func (x *Index) ListWithPrefixAllVersions(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error) {
	return x.collect(ctx, namespace, func(s artifact.Stem) bool {
		return s.AUID == auid && strings.HasPrefix(s.URI, prefix)
	}, allVersions(false))
}

// ListAllVersionsAllAus returns every committed version of the URI across all AUs.
func (x *Index) ListAllVersionsAllAus(ctx context.Context, namespace, uri string) ([]artifact.Artifact, error) {
	return x.collect(ctx, namespace, func(s artifact.Stem) bool {
		return s.URI == uri
	}, allVersions(false))
}

// ListWithPrefixAllAus returns every committed artifact with the URI prefix across all AUs.
func (x *Index) ListWithPrefixAllAus(ctx context.Context, namespace, prefix string) ([]artifact.Artifact, error) {
	return x.collect(ctx, namespace, func(s artifact.Stem) bool {
		return strings.HasPrefix(s.URI, prefix)
	}, allVersions(false))
}

// selector picks artifacts from one stem's version-ordered uuid list.
type selector func(x *Index, uuids []string) []artifact.Artifact

// latestCommitted picks the highest committed version, if any.
func latestCommitted(x *Index, uuids []string) []artifact.Artifact {
	for i := len(uuids) - 1; i >= 0; i-- {
		if a := x.artifacts[uuids[i]]; a.Committed {
			return []artifact.Artifact{a}
		}
	}
	return nil
}

// allVersions picks every visible version, highest first.
func allVersions(includeUncommitted bool) selector {
	return func(x *Index, uuids []string) []artifact.Artifact {
		var out []artifact.Artifact
		for i := len(uuids) - 1; i >= 0; i-- {
			if a := x.artifacts[uuids[i]]; a.Committed || includeUncommitted {
				out = append(out, a)
			}
		}
		return out
	}
}

// collect gathers artifacts from stems matching the filter, ordered by
// AUID then URI then descending version.
func (x *Index) collect(ctx context.Context, namespace string, match func(artifact.Stem) bool, sel selector) ([]artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var stems []artifact.Stem
	for s := range x.stems {
		if s.Namespace == namespace && match(s) {
			stems = append(stems, s)
		}
	}
	slices.SortFunc(stems, func(a, b artifact.Stem) int {
		if c := cmp.Compare(a.AUID, b.AUID); c != 0 {
			return c
		}
		return cmp.Compare(a.URI, b.URI)
	})

	var out []artifact.Artifact
	for _, s := range stems {
		out = append(out, sel(x, x.stems[s])...)
	}
	return out, nil
}

// Commit marks the artifact committed. Idempotent.
func (x *Index) Commit(ctx context.Context, uuid string) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.artifacts[uuid]
	if !ok {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	if !a.Committed {
		a.Committed = true
		x.artifacts[uuid] = a
	}
	return a, nil
}

// UpdateStorageURL overwrites the artifact's storage locator.
func (x *Index) UpdateStorageURL(ctx context.Context, uuid, storageURL string) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.artifacts[uuid]
	if !ok {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	a.StorageURL = storageURL
	x.artifacts[uuid] = a
	return a, nil
}

// Delete removes the artifact record.
func (x *Index) Delete(ctx context.Context, uuid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.artifacts[uuid]
	if !ok {
		return artifact.ErrNotFound
	}
	delete(x.artifacts, uuid)

	stem := a.Stem()
	uuids := x.stems[stem]
	for i, id := range uuids {
		if id == uuid {
			x.stems[stem] = append(uuids[:i], uuids[i+1:]...)
			break
		}
	}
	if len(x.stems[stem]) == 0 {
		delete(x.stems, stem)
	}
	return nil
}

// AuSize aggregates committed content sizes for one AU.
func (x *Index) AuSize(ctx context.Context, namespace, auid string) (index.AuSize, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return index.AuSize{}, err
	}
	if err := ctx.Err(); err != nil {
		return index.AuSize{}, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var size index.AuSize
	for s, uuids := range x.stems {
		if s.Namespace != namespace || s.AUID != auid {
			continue
		}
		latest := int64(-1)
		for _, id := range uuids {
			a := x.artifacts[id]
			if !a.Committed {
				continue
			}
			size.TotalAllVersions += a.ContentLength
			latest = a.ContentLength
		}
		if latest >= 0 {
			size.TotalLatestVersions += latest
		}
	}
	return size, nil
}

// Namespaces returns all namespaces with at least one artifact.
func (x *Index) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	for s := range x.stems {
		seen[s.Namespace] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	slices.Sort(out)
	return out, nil
}

// AuIDs returns all AU identifiers within a namespace.
func (x *Index) AuIDs(ctx context.Context, namespace string) ([]string, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	for s := range x.stems {
		if s.Namespace == namespace {
			seen[s.AUID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for au := range seen {
		out = append(out, au)
	}
	slices.Sort(out)
	return out, nil
}

// Len returns the total number of records in the index.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.artifacts)
}

// Close releases nothing; it exists to satisfy index.Index.
func (x *Index) Close() error {
	return nil
}

// Ensure Index implements index.Index.
var _ index.Index = (*Index)(nil)
