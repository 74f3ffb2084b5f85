package warc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/storage"
)

// Store is a WARC-backed implementation of storage.DataStore. Artifact
// bytes live in append-only per-AU WARC volumes; commit state lives in a
// JSON state file per artifact beside the volumes.
//
// Layout under the base directory:
//
//	volumes/<namespace>/<escaped auid>.warc
//	state/<uuid>.json
//	tmp/
type Store struct {
	basePath string

	// volMu serializes appends per volume path.
	mu    sync.Mutex
	volMu map[string]*sync.Mutex

	// reindexWorkers bounds the parallel volume scan.
	reindexWorkers int
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithReindexWorkers sets the number of parallel volume scanners.
func WithReindexWorkers(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.reindexWorkers = n
		}
	}
}

// NewStore creates a WARC data store rooted at basePath.
func NewStore(basePath string, opts ...StoreOption) (*Store, error) {
	for _, dir := range []string{basePath, filepath.Join(basePath, "volumes"), filepath.Join(basePath, "state"), filepath.Join(basePath, "tmp")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: creating store directory: %w", artifact.ErrStorage, err)
		}
	}

	s := &Store{
		basePath:       basePath,
		volMu:          make(map[string]*sync.Mutex),
		reindexWorkers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// volumePath returns the WARC volume path for an AU.
func (s *Store) volumePath(namespace, auid string) string {
	return filepath.Join(s.basePath, "volumes", namespace, url.QueryEscape(auid)+".warc")
}

// statePath returns the state file path for an artifact.
func (s *Store) statePath(uuid string) string {
	return filepath.Join(s.basePath, "state", uuid+".json")
}

// volumeLock returns the append mutex for one volume, creating it lazily.
func (s *Store) volumeLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.volMu[path]
	if !ok {
		m = &sync.Mutex{}
		s.volMu[path] = m
	}
	return m
}

// storageURL encodes a record's location as an opaque locator.
func (s *Store) storageURL(volPath string, offset, length int64) string {
	rel, err := filepath.Rel(s.basePath, volPath)
	if err != nil {
		rel = volPath
	}
	return fmt.Sprintf("warc:///%s?offset=%d&length=%d", url.PathEscape(rel), offset, length)
}

// parseStorageURL decodes a locator produced by storageURL.
func (s *Store) parseStorageURL(raw string) (path string, offset, length int64, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "warc" {
		return "", 0, 0, fmt.Errorf("%w: bad storage url %q", artifact.ErrInvalidArtifact, raw)
	}
	rel := strings.TrimPrefix(u.Path, "/")
	offset, err = strconv.ParseInt(u.Query().Get("offset"), 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: bad storage url %q", artifact.ErrInvalidArtifact, raw)
	}
	length, err = strconv.ParseInt(u.Query().Get("length"), 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: bad storage url %q", artifact.ErrInvalidArtifact, raw)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(rel)), offset, length, nil
}

// spool copies content to a temp file computing its sha256 digest.
func (s *Store) spool(content io.Reader) (f *os.File, length int64, digest string, err error) {
	f, err = os.CreateTemp(filepath.Join(s.basePath, "tmp"), "spool-*")
	if err != nil {
		return nil, 0, "", fmt.Errorf("%w: creating spool file: %w", artifact.ErrStorage, err)
	}

	hasher := sha256.New()
	length, err = io.Copy(io.MultiWriter(f, hasher), content)
	if err != nil {
		f.Close()           // #nosec G104 -- best-effort cleanup in error path
		os.Remove(f.Name()) // #nosec G104 -- best-effort cleanup in error path
		return nil, 0, "", fmt.Errorf("%w: spooling content: %w", artifact.ErrStorage, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()           // #nosec G104 -- best-effort cleanup in error path
		os.Remove(f.Name()) // #nosec G104 -- best-effort cleanup in error path
		return nil, 0, "", fmt.Errorf("%w: rewinding spool file: %w", artifact.ErrStorage, err)
	}
	return f, length, "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// httpBlockHeader encodes the status line and headers of a response block.
func httpBlockHeader(statusLine string, headers http.Header) []byte {
	var b strings.Builder
	b.WriteString(statusLine + crlf)
	for name, values := range headers {
		for _, v := range values {
			b.WriteString(name + ": " + v + crlf)
		}
	}
	b.WriteString(crlf)
	return []byte(b.String())
}

// AddArtifactData persists the artifact's headers and content to its
// AU's WARC volume and writes an uncommitted state file. The returned
// artifact carries the storage locator, content length, and digest.
func (s *Store) AddArtifactData(ctx context.Context, data *artifact.Data) (artifact.Artifact, error) {
	a := data.Artifact
	if !a.IsValid() {
		return artifact.Artifact{}, artifact.ErrInvalidArtifact
	}
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	var content io.Reader = data.Content
	if content == nil {
		content = strings.NewReader("")
	}
	spooled, length, digest, err := s.spool(content)
	if err != nil {
		return artifact.Artifact{}, err
	}
	defer func() {
		spooled.Close()           // #nosec G104 -- spool file is discarded either way
		os.Remove(spooled.Name()) // #nosec G104 -- best-effort temp cleanup
	}()

	a = a.WithContent(length, digest)

	recType := TypeResponse
	var httpHeader []byte
	contentType := "application/http; msgtype=response"
	if data.StatusLine == "" {
		recType = TypeResource
		contentType = "application/octet-stream"
	} else {
		httpHeader = httpBlockHeader(data.StatusLine, data.Headers)
	}

	fields := []field{
		{FieldRecordID, "<urn:uuid:" + a.UUID + ">"},
		{FieldType, recType},
		{FieldTargetURI, a.URI},
		{FieldDate, time.UnixMilli(a.CollectionDate).UTC().Format(time.RFC3339)},
		{FieldNamespace, a.Namespace},
		{FieldAUID, a.AUID},
		{FieldVersion, strconv.Itoa(a.Version)},
		{FieldDigest, a.ContentDigest},
		{FieldCollectionDate, strconv.FormatInt(a.CollectionDate, 10)},
		{FieldContentType, contentType},
	}

	volPath := s.volumePath(a.Namespace, a.AUID)
	if err := os.MkdirAll(filepath.Dir(volPath), 0o750); err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: creating volume directory: %w", artifact.ErrStorage, err)
	}

	lock := s.volumeLock(volPath)
	lock.Lock()
	defer lock.Unlock()

	vol, err := os.OpenFile(volPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: opening volume: %w", artifact.ErrStorage, err)
	}
	defer vol.Close() // #nosec G104 -- flushed explicitly below

	stat, err := vol.Stat()
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: stat volume: %w", artifact.ErrStorage, err)
	}
	offset := stat.Size()

	written, err := writeRecord(vol, fields, httpHeader, spooled, length)
	if err != nil {
		// The volume now ends with a torn record; truncate it back so
		// subsequent appends start from a record boundary.
		vol.Truncate(offset) // #nosec G104 -- best-effort restore of append invariant
		return artifact.Artifact{}, fmt.Errorf("%w: writing record: %w", artifact.ErrStorage, err)
	}

	a = a.WithStorageURL(s.storageURL(volPath, offset, written))

	if err := s.writeState(a); err != nil {
		return artifact.Artifact{}, err
	}
	return a, nil
}

// writeState writes the artifact's state file atomically via rename.
func (s *Store) writeState(a artifact.Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.basePath, "tmp"), "state-*")
	if err != nil {
		return fmt.Errorf("%w: creating state file: %w", artifact.ErrStorage, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           // #nosec G104 -- best-effort cleanup in error path
		os.Remove(tmp.Name()) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("%w: writing state file: %w", artifact.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("%w: closing state file: %w", artifact.ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), s.statePath(a.UUID)); err != nil {
		os.Remove(tmp.Name()) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("%w: installing state file: %w", artifact.ErrStorage, err)
	}
	return nil
}

// readState loads the artifact's state file.
func (s *Store) readState(uuid string) (artifact.Artifact, error) {
	data, err := os.ReadFile(s.statePath(uuid))
	if err != nil {
		if os.IsNotExist(err) {
			return artifact.Artifact{}, artifact.ErrNotFound
		}
		return artifact.Artifact{}, fmt.Errorf("%w: reading state file: %w", artifact.ErrStorage, err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return artifact.Artifact{}, fmt.Errorf("%w: decoding state file: %w", artifact.ErrStorage, err)
	}
	return a, nil
}

// CommitArtifactData makes the staged record permanent: the volume is
// fsynced and the state file rewritten with committed set.
func (s *Store) CommitArtifactData(ctx context.Context, a artifact.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := s.readState(a.UUID)
	if err != nil {
		return err
	}
	if state.Committed {
		return nil
	}

	volPath, _, _, err := s.parseStorageURL(state.StorageURL)
	if err != nil {
		return err
	}

	vol, err := os.Open(volPath)
	if err != nil {
		return fmt.Errorf("%w: opening volume for sync: %w", artifact.ErrStorage, err)
	}
	if err := vol.Sync(); err != nil {
		vol.Close() // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("%w: syncing volume: %w", artifact.ErrStorage, err)
	}
	if err := vol.Close(); err != nil {
		return fmt.Errorf("%w: closing volume: %w", artifact.ErrStorage, err)
	}

	state.Committed = true
	return s.writeState(state)
}

// GetArtifactData re-opens the stored record for reading. The returned
// content stream reads directly from the volume; closing the Data closes
// the underlying file.
func (s *Store) GetArtifactData(ctx context.Context, a artifact.Artifact) (*artifact.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, err := s.readState(a.UUID)
	if err != nil {
		return nil, err
	}

	volPath, offset, length, err := s.parseStorageURL(state.StorageURL)
	if err != nil {
		return nil, err
	}

	vol, err := os.Open(volPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("%w: opening volume: %w", artifact.ErrStorage, err)
	}
	if _, err := vol.Seek(offset, io.SeekStart); err != nil {
		vol.Close() // #nosec G104 -- best-effort cleanup in error path
		return nil, fmt.Errorf("%w: seeking record: %w", artifact.ErrStorage, err)
	}

	rec, err := NewReader(io.LimitReader(vol, length)).Next()
	if err != nil {
		vol.Close() // #nosec G104 -- best-effort cleanup in error path
		return nil, fmt.Errorf("%w: reading record at %s: %w", artifact.ErrStorage, state.StorageURL, err)
	}

	return &artifact.Data{
		Artifact:   state,
		StatusLine: rec.StatusLine,
		Headers:    rec.HTTPHeaders,
		Content:    readCloser{rec.Content, vol},
	}, nil
}

// readCloser couples a record's content stream with its volume handle.
type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc readCloser) Close() error {
	return rc.closer.Close()
}

// DeleteArtifactData removes the artifact's state irrecoverably. The
// record bytes remain unreachable garbage in the append-only volume;
// compaction is out of scope.
func (s *Store) DeleteArtifactData(ctx context.Context, a artifact.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.statePath(a.UUID)); err != nil {
		if os.IsNotExist(err) {
			return artifact.ErrNotFound
		}
		return fmt.Errorf("%w: removing state file: %w", artifact.ErrStorage, err)
	}
	return nil
}

// StorageInfo reports capacity and usage of the volume filesystem.
func (s *Store) StorageInfo(ctx context.Context) (storage.Info, error) {
	if err := ctx.Err(); err != nil {
		return storage.Info{}, err
	}
	return statFS(s.basePath)
}

// Close releases nothing; volumes are opened per operation.
func (s *Store) Close() error {
	return nil
}

// walkVolumes returns all WARC volume paths under the store.
func (s *Store) walkVolumes() ([]string, error) {
	var volumes []string
	root := filepath.Join(s.basePath, "volumes")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".warc") {
			volumes = append(volumes, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking volumes: %w", artifact.ErrStorage, err)
	}
	return volumes, nil
}

// Ensure Store implements storage.DataStore.
var _ storage.DataStore = (*Store)(nil)
