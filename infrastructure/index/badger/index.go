package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
)

// Key layout:
//
//	art:<uuid>                              -> JSON artifact
//	stem:<ns>\x00<auid>\x00<uri>\x00<ver>   -> uuid (ver is 8 bytes big-endian)
//
// Stem keys sort by namespace, AUID, URI, then ascending version, so URI
// prefix queries and per-stem version scans are plain prefix iterations.
// Stem components never contain NUL.

// Index is a BadgerDB-backed implementation of index.Index.
type Index struct {
	db     *badger.DB
	gcStop chan struct{}
	gcWg   sync.WaitGroup
}

// NewIndex opens a BadgerDB index with the given configuration.
func NewIndex(cfg Config, opts ...Option) (*Index, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	x := &Index{
		db:     db,
		gcStop: make(chan struct{}),
	}

	if cfg.GCInterval > 0 {
		x.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return x, nil
}

// NewIndexFromDB creates an index from an existing BadgerDB database.
func NewIndexFromDB(db *badger.DB) *Index {
	return &Index{
		db:     db,
		gcStop: make(chan struct{}),
	}
}

// startGC starts the value-log garbage collection goroutine.
func (x *Index) startGC(interval time.Duration, discardRatio float64) {
	x.gcWg.Add(1)
	go func() {
		defer x.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-x.gcStop:
				return
			case <-ticker.C:
				for {
					if err := x.db.RunValueLogGC(discardRatio); err != nil {
						break
					}
				}
			}
		}
	}()
}

func artKey(uuid string) []byte {
	return []byte("art:" + uuid)
}

func stemPrefix(namespace, auid, uri string) []byte {
	return []byte("stem:" + namespace + "\x00" + auid + "\x00" + uri + "\x00")
}

func stemKey(a artifact.Artifact) []byte {
	key := stemPrefix(a.Namespace, a.AUID, a.URI)
	ver := make([]byte, 8)
	binary.BigEndian.PutUint64(ver, uint64(a.Version)) // #nosec G115 -- versions are positive
	return append(key, ver...)
}

// Add inserts an artifact record. Re-adding an existing UUID is a no-op.
func (x *Index) Add(ctx context.Context, a artifact.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.IsValid() {
		return artifact.ErrInvalidArtifact
	}

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	return x.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(artKey(a.UUID)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(artKey(a.UUID), data); err != nil {
			return err
		}
		return txn.Set(stemKey(a), []byte(a.UUID))
	})
}

// getByUUID loads one artifact within a transaction.
func getByUUID(txn *badger.Txn, uuid string) (artifact.Artifact, error) {
	item, err := txn.Get(artKey(uuid))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return artifact.Artifact{}, artifact.ErrNotFound
		}
		return artifact.Artifact{}, err
	}
	var a artifact.Artifact
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	})
	return a, err
}

// Get returns the latest visible version for the stem.
func (x *Index) Get(ctx context.Context, namespace, auid, uri string, includeUncommitted bool) (artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return artifact.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	var latest artifact.Artifact
	found := false

	err := x.db.View(func(txn *badger.Txn) error {
		return x.scanStems(txn, stemPrefix(namespace, auid, uri), func(a artifact.Artifact) bool {
			if a.Committed || includeUncommitted {
				latest = a
				found = true
			}
			return true
		})
	})
	if err != nil {
		return artifact.Artifact{}, err
	}
	if !found {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	return latest, nil
}

// GetVersion returns one specific version of a stem's artifact.
func (x *Index) GetVersion(ctx context.Context, namespace, auid, uri string, version int, includeUncommitted bool) (artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return artifact.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	key := stemKey(artifact.Artifact{Identifier: artifact.Identifier{
		Namespace: namespace, AUID: auid, URI: uri, Version: version,
	}})

	var out artifact.Artifact
	err := x.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return artifact.ErrNotFound
			}
			return err
		}
		var uuid string
		if err := item.Value(func(val []byte) error {
			uuid = string(val)
			return nil
		}); err != nil {
			return err
		}
		out, err = getByUUID(txn, uuid)
		return err
	})
	if err != nil {
		return artifact.Artifact{}, err
	}
	if !out.Committed && !includeUncommitted {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	return out, nil
}

// GetByUUID returns the artifact with the given UUID.
func (x *Index) GetByUUID(ctx context.Context, uuid string) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	var out artifact.Artifact
	err := x.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = getByUUID(txn, uuid)
		return err
	})
	return out, err
}

// scanStems iterates stem keys under prefix in key order, resolving each
// uuid to its artifact. Malformed entries are skipped. The visit function
// returns false to stop early.
func (x *Index) scanStems(txn *badger.Txn, prefix []byte, visit func(artifact.Artifact) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var uuid string
		if err := it.Item().Value(func(val []byte) error {
			uuid = string(val)
			return nil
		}); err != nil {
			continue
		}
		a, err := getByUUID(txn, uuid)
		if err != nil {
			continue // dangling stem entry
		}
		if !visit(a) {
			return nil
		}
	}
	return nil
}

// List returns the latest committed version of every URI in the AU.
func (x *Index) List(ctx context.Context, namespace, auid string) ([]artifact.Artifact, error) {
	return x.listPrefix(ctx, namespace, []byte("stem:"+namespace+"\x00"+auid+"\x00"), true, false)
}

// ListAllVersions returns every version of every URI in the AU.
func (x *Index) ListAllVersions(ctx context.Context, namespace, auid string, includeUncommitted bool) ([]artifact.Artifact, error) {
	return x.listPrefix(ctx, namespace, []byte("stem:"+namespace+"\x00"+auid+"\x00"), false, includeUncommitted)
}

// ListWithPrefix returns the latest committed version of matching URIs in the AU.
func (x *Index) ListWithPrefix(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error) {
	return x.listPrefix(ctx, namespace, []byte("stem:"+namespace+"\x00"+auid+"\x00"+prefix), true, false)
}

// ListWithPrefixAllVersions returns every committed version of matching URIs in the AU.
func (x *Index) ListWithPrefixAllVersions(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error) {
	return x.listPrefix(ctx, namespace, []byte("stem:"+namespace+"\x00"+auid+"\x00"+prefix), false, false)
}

// ListAllVersionsAllAus returns every committed version of the URI across all AUs.
func (x *Index) ListAllVersionsAllAus(ctx context.Context, namespace, uri string) ([]artifact.Artifact, error) {
	all, err := x.listPrefix(ctx, namespace, []byte("stem:"+namespace+"\x00"), false, false)
	if err != nil {
		return nil, err
	}
	var out []artifact.Artifact
	for _, a := range all {
		if a.URI == uri {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListWithPrefixAllAus returns every committed artifact with the URI prefix across all AUs.
func (x *Index) ListWithPrefixAllAus(ctx context.Context, namespace, prefix string) ([]artifact.Artifact, error) {
	all, err := x.listPrefix(ctx, namespace, []byte("stem:"+namespace+"\x00"), false, false)
	if err != nil {
		return nil, err
	}
	var out []artifact.Artifact
	for _, a := range all {
		if strings.HasPrefix(a.URI, prefix) {
			out = append(out, a)
		}
	}
	return out, nil
}

// listPrefix walks stem keys under prefix grouping by stem, emitting
// either the latest committed version per stem or all visible versions
// highest first.
func (x *Index) listPrefix(ctx context.Context, namespace string, prefix []byte, latestOnly, includeUncommitted bool) ([]artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []artifact.Artifact
	err := x.db.View(func(txn *badger.Txn) error {
		var group []artifact.Artifact
		var current artifact.Stem

		flush := func() {
			if len(group) == 0 {
				return
			}
			if latestOnly {
				for i := len(group) - 1; i >= 0; i-- {
					if group[i].Committed {
						out = append(out, group[i])
						break
					}
				}
			} else {
				for i := len(group) - 1; i >= 0; i-- {
					if group[i].Committed || includeUncommitted {
						out = append(out, group[i])
					}
				}
			}
			group = group[:0]
		}

		err := x.scanStems(txn, prefix, func(a artifact.Artifact) bool {
			if a.Stem() != current {
				flush()
				current = a.Stem()
			}
			group = append(group, a)
			return true
		})
		flush()
		return err
	})
	return out, err
}

// Commit marks the artifact committed. Idempotent.
func (x *Index) Commit(ctx context.Context, uuid string) (artifact.Artifact, error) {
	return x.mutate(ctx, uuid, func(a *artifact.Artifact) {
		a.Committed = true
	})
}

// UpdateStorageURL overwrites the artifact's storage locator.
func (x *Index) UpdateStorageURL(ctx context.Context, uuid, storageURL string) (artifact.Artifact, error) {
	return x.mutate(ctx, uuid, func(a *artifact.Artifact) {
		a.StorageURL = storageURL
	})
}

// mutate applies fn to one artifact record inside a transaction.
func (x *Index) mutate(ctx context.Context, uuid string, fn func(*artifact.Artifact)) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	var out artifact.Artifact
	err := x.db.Update(func(txn *badger.Txn) error {
		a, err := getByUUID(txn, uuid)
		if err != nil {
			return err
		}
		fn(&a)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := txn.Set(artKey(uuid), data); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// Delete removes the artifact record and its stem entry.
func (x *Index) Delete(ctx context.Context, uuid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return x.db.Update(func(txn *badger.Txn) error {
		a, err := getByUUID(txn, uuid)
		if err != nil {
			return err
		}
		if err := txn.Delete(artKey(uuid)); err != nil {
			return err
		}
		return txn.Delete(stemKey(a))
	})
}

// AuSize aggregates committed content sizes for one AU.
func (x *Index) AuSize(ctx context.Context, namespace, auid string) (index.AuSize, error) {
	all, err := x.ListAllVersions(ctx, namespace, auid, false)
	if err != nil {
		return index.AuSize{}, err
	}

	var size index.AuSize
	var current artifact.Stem
	for _, a := range all {
		// Versions arrive highest-first per stem; the first of each
		// stem is the latest committed.
		size.TotalAllVersions += a.ContentLength
		if a.Stem() != current {
			current = a.Stem()
			size.TotalLatestVersions += a.ContentLength
		}
	}
	return size, nil
}

// Namespaces returns all namespaces with at least one artifact.
func (x *Index) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []string
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("stem:")

		it := txn.NewIterator(opts)
		defer it.Close()

		var last string
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, "stem:")
			ns, _, ok := strings.Cut(rest, "\x00")
			if !ok || ns == last {
				continue
			}
			last = ns
			out = append(out, ns)
		}
		return nil
	})
	return out, err
}

// AuIDs returns all AU identifiers within a namespace.
func (x *Index) AuIDs(ctx context.Context, namespace string) ([]string, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := "stem:" + namespace + "\x00"
	var out []string
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		var last string
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, prefix)
			auid, _, ok := strings.Cut(rest, "\x00")
			if !ok || auid == last {
				continue
			}
			last = auid
			out = append(out, auid)
		}
		return nil
	})
	return out, err
}

// Close stops GC and closes the database.
func (x *Index) Close() error {
	close(x.gcStop)
	x.gcWg.Wait()
	return x.db.Close()
}

// DB returns the underlying BadgerDB database.
func (x *Index) DB() *badger.DB {
	return x.db
}

// Ensure Index implements index.Index.
var _ index.Index = (*Index)(nil)
