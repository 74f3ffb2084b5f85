package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
)

// Key layout (all under the configured prefix):
//
//	art:<uuid>               -> JSON artifact
//	ver:<stem key>           -> sorted set, member uuid, score version
//	stems:<ns>\x00<auid>     -> set of URIs
//	aus:<ns>                 -> set of AUIDs
//	ns                       -> set of namespaces

// Index is a Redis-backed implementation of index.Index.
type Index struct {
	client    *redis.Client
	keyPrefix string
}

// NewIndex creates a Redis index with the given configuration and
// verifies the connection.
func NewIndex(cfg Config, opts ...ConfigOption) (*Index, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(artifact.ErrStorage, err)
	}

	return &Index{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewIndexFromClient creates an index from an existing Redis client.
func NewIndexFromClient(client *redis.Client, keyPrefix string) *Index {
	return &Index{client: client, keyPrefix: keyPrefix}
}

func (x *Index) artKey(uuid string) string {
	return x.keyPrefix + "art:" + uuid
}

func (x *Index) verKey(s artifact.Stem) string {
	return x.keyPrefix + "ver:" + s.Key()
}

func (x *Index) stemsKey(namespace, auid string) string {
	return x.keyPrefix + "stems:" + namespace + "\x00" + auid
}

func (x *Index) ausKey(namespace string) string {
	return x.keyPrefix + "aus:" + namespace
}

func (x *Index) nsKey() string {
	return x.keyPrefix + "ns"
}

// wrapError attaches the domain storage error to backend failures.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(artifact.ErrStorage, err)
}

// Add inserts an artifact record. Re-adding an existing UUID is a no-op.
func (x *Index) Add(ctx context.Context, a artifact.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.IsValid() {
		return artifact.ErrInvalidArtifact
	}

	exists, err := x.client.Exists(ctx, x.artKey(a.UUID)).Result()
	if err != nil {
		return wrapError(err)
	}
	if exists > 0 {
		return nil
	}

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	pipe := x.client.TxPipeline()
	pipe.Set(ctx, x.artKey(a.UUID), data, 0)
	pipe.ZAdd(ctx, x.verKey(a.Stem()), redis.Z{Score: float64(a.Version), Member: a.UUID})
	pipe.SAdd(ctx, x.stemsKey(a.Namespace, a.AUID), a.URI)
	pipe.SAdd(ctx, x.ausKey(a.Namespace), a.AUID)
	pipe.SAdd(ctx, x.nsKey(), a.Namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapError(err)
	}
	return nil
}

// fetch loads one artifact by UUID.
func (x *Index) fetch(ctx context.Context, uuid string) (artifact.Artifact, error) {
	data, err := x.client.Get(ctx, x.artKey(uuid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return artifact.Artifact{}, artifact.ErrNotFound
		}
		return artifact.Artifact{}, wrapError(err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return artifact.Artifact{}, fmt.Errorf("decoding artifact %s: %w", uuid, err)
	}
	return a, nil
}

// stemVersions returns a stem's artifacts in descending version order.
func (x *Index) stemVersions(ctx context.Context, s artifact.Stem) ([]artifact.Artifact, error) {
	uuids, err := x.client.ZRevRange(ctx, x.verKey(s), 0, -1).Result()
	if err != nil {
		return nil, wrapError(err)
	}

	out := make([]artifact.Artifact, 0, len(uuids))
	for _, uuid := range uuids {
		a, err := x.fetch(ctx, uuid)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				continue // dangling version entry
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Get returns the latest visible version for the stem.
func (x *Index) Get(ctx context.Context, namespace, auid, uri string, includeUncommitted bool) (artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return artifact.Artifact{}, err
	}

	versions, err := x.stemVersions(ctx, artifact.Stem{Namespace: namespace, AUID: auid, URI: uri})
	if err != nil {
		return artifact.Artifact{}, err
	}
	for _, a := range versions {
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

	score := strconv.Itoa(version)
	key := x.verKey(artifact.Stem{Namespace: namespace, AUID: auid, URI: uri})
	uuids, err := x.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil {
		return artifact.Artifact{}, wrapError(err)
	}
	if len(uuids) == 0 {
		return artifact.Artifact{}, artifact.ErrNotFound
	}

	a, err := x.fetch(ctx, uuids[0])
	if err != nil {
		return artifact.Artifact{}, err
	}
	if !a.Committed && !includeUncommitted {
		return artifact.Artifact{}, artifact.ErrNotFound
	}
	return a, nil
}

// GetByUUID returns the artifact with the given UUID.
func (x *Index) GetByUUID(ctx context.Context, uuid string) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}
	return x.fetch(ctx, uuid)
}

// auURIs returns the sorted URIs of one AU, optionally filtered by prefix.
func (x *Index) auURIs(ctx context.Context, namespace, auid, prefix string) ([]string, error) {
	uris, err := x.client.SMembers(ctx, x.stemsKey(namespace, auid)).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	if prefix != "" {
		uris = slices.DeleteFunc(uris, func(u string) bool {
			return !strings.HasPrefix(u, prefix)
		})
	}
	slices.Sort(uris)
	return uris, nil
}

// listAU walks an AU's stems in URI order applying the visibility rule.
func (x *Index) listAU(ctx context.Context, namespace, auid, prefix string, latestOnly, includeUncommitted bool) ([]artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	uris, err := x.auURIs(ctx, namespace, auid, prefix)
	if err != nil {
		return nil, err
	}

	var out []artifact.Artifact
	for _, uri := range uris {
		versions, err := x.stemVersions(ctx, artifact.Stem{Namespace: namespace, AUID: auid, URI: uri})
		if err != nil {
			return nil, err
		}
		for _, a := range versions {
			if !a.Committed && !includeUncommitted {
				continue
			}
			out = append(out, a)
			if latestOnly {
				break
			}
		}
	}
	return out, nil
}

// List returns the latest committed version of every URI in the AU.
func (x *Index) List(ctx context.Context, namespace, auid string) ([]artifact.Artifact, error) {
	return x.listAU(ctx, namespace, auid, "", true, false)
}

// ListAllVersions returns every version of every URI in the AU.
func (x *Index) ListAllVersions(ctx context.Context, namespace, auid string, includeUncommitted bool) ([]artifact.Artifact, error) {
	return x.listAU(ctx, namespace, auid, "", false, includeUncommitted)
}

// ListWithPrefix returns the latest committed version of matching URIs in the AU.
func (x *Index) ListWithPrefix(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error) {
	return x.listAU(ctx, namespace, auid, prefix, true, false)
}

// ListWithPrefixAllVersions returns every committed version of matching URIs in the AU.
func (x *Index) ListWithPrefixAllVersions(ctx context.Context, namespace, auid, prefix string) ([]artifact.Artifact, error) {
	return x.listAU(ctx, namespace, auid, prefix, false, false)
}

// ListAllVersionsAllAus returns every committed version of the URI across all AUs.
func (x *Index) ListAllVersionsAllAus(ctx context.Context, namespace, uri string) ([]artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	auids, err := x.AuIDs(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var out []artifact.Artifact
	for _, auid := range auids {
		versions, err := x.stemVersions(ctx, artifact.Stem{Namespace: namespace, AUID: auid, URI: uri})
		if err != nil {
			return nil, err
		}
		for _, a := range versions {
			if a.Committed {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// ListWithPrefixAllAus returns every committed artifact with the URI prefix across all AUs.
func (x *Index) ListWithPrefixAllAus(ctx context.Context, namespace, prefix string) ([]artifact.Artifact, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	auids, err := x.AuIDs(ctx, namespace)
	if err != nil {
		return nil, err
	}

	var out []artifact.Artifact
	for _, auid := range auids {
		matched, err := x.listAU(ctx, namespace, auid, prefix, false, false)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}
	return out, nil
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

// mutate applies fn to one artifact record and writes it back.
func (x *Index) mutate(ctx context.Context, uuid string, fn func(*artifact.Artifact)) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	a, err := x.fetch(ctx, uuid)
	if err != nil {
		return artifact.Artifact{}, err
	}
	fn(&a)

	data, err := json.Marshal(a)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if err := x.client.Set(ctx, x.artKey(uuid), data, 0).Err(); err != nil {
		return artifact.Artifact{}, wrapError(err)
	}
	return a, nil
}

// Delete removes the artifact record and its membership entries.
func (x *Index) Delete(ctx context.Context, uuid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a, err := x.fetch(ctx, uuid)
	if err != nil {
		return err
	}

	pipe := x.client.TxPipeline()
	pipe.Del(ctx, x.artKey(uuid))
	pipe.ZRem(ctx, x.verKey(a.Stem()), uuid)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapError(err)
	}

	// Drop the URI from the stem set when its last version is gone.
	remaining, err := x.client.ZCard(ctx, x.verKey(a.Stem())).Result()
	if err != nil {
		return wrapError(err)
	}
	if remaining == 0 {
		if err := x.client.SRem(ctx, x.stemsKey(a.Namespace, a.AUID), a.URI).Err(); err != nil {
			return wrapError(err)
		}
	}
	return nil
}

// AuSize aggregates committed content sizes for one AU.
func (x *Index) AuSize(ctx context.Context, namespace, auid string) (index.AuSize, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return index.AuSize{}, err
	}

	uris, err := x.auURIs(ctx, namespace, auid, "")
	if err != nil {
		return index.AuSize{}, err
	}

	var size index.AuSize
	for _, uri := range uris {
		versions, err := x.stemVersions(ctx, artifact.Stem{Namespace: namespace, AUID: auid, URI: uri})
		if err != nil {
			return index.AuSize{}, err
		}
		latest := true
		for _, a := range versions {
			if !a.Committed {
				continue
			}
			size.TotalAllVersions += a.ContentLength
			if latest {
				size.TotalLatestVersions += a.ContentLength
				latest = false
			}
		}
	}
	return size, nil
}

// Namespaces returns all namespaces with at least one artifact.
func (x *Index) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := x.client.SMembers(ctx, x.nsKey()).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	slices.Sort(out)
	return out, nil
}

// AuIDs returns all AU identifiers within a namespace.
func (x *Index) AuIDs(ctx context.Context, namespace string) ([]string, error) {
	if err := artifact.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	out, err := x.client.SMembers(ctx, x.ausKey(namespace)).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	slices.Sort(out)
	return out, nil
}

// Close closes the Redis connection.
func (x *Index) Close() error {
	return x.client.Close()
}

// Client returns the underlying Redis client for advanced operations.
func (x *Index) Client() *redis.Client {
	return x.client
}

// Ensure Index implements index.Index.
var _ index.Index = (*Index)(nil)
