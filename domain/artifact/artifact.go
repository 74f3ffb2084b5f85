// Package artifact provides the domain model for versioned, immutable
// captures of web content.
package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identifier names one physical artifact instance and places it within
// its stem's version lineage.
type Identifier struct {
	// UUID is the unique identifier for this artifact instance.
	UUID string `json:"uuid"`

	// Namespace is the top-level storage partition.
	Namespace string `json:"namespace"`

	// AUID identifies the archival unit within the namespace.
	AUID string `json:"auid"`

	// URI is the captured resource's locator within the AU.
	URI string `json:"uri"`

	// Version is a positive integer, unique and strictly increasing
	// within the stem. Assigned once, never reused.
	Version int `json:"version"`
}

// NewIdentifier creates an identifier with a fresh random UUID.
func NewIdentifier(namespace, auid, uri string, version int) Identifier {
	return Identifier{
		UUID:      uuid.New().String(),
		Namespace: namespace,
		AUID:      auid,
		URI:       uri,
		Version:   version,
	}
}

// Stem returns the version-lineage key for this identifier.
func (id Identifier) Stem() Stem {
	return Stem{Namespace: id.Namespace, AUID: id.AUID, URI: id.URI}
}

// IsValid reports whether the identifier names a concrete artifact.
func (id Identifier) IsValid() bool {
	return id.UUID != "" && id.Namespace != "" && id.AUID != "" && id.URI != "" && id.Version > 0
}

// String returns a human-readable representation.
func (id Identifier) String() string {
	return fmt.Sprintf("[%s, %s, %s, v%d]", id.Namespace, id.AUID, id.URI, id.Version)
}

// Stem is the (namespace, auid, uri) triple identifying one version lineage.
type Stem struct {
	Namespace string
	AUID      string
	URI       string
}

// Key returns a canonical string form usable as a lock or index key.
// Components are NUL-separated; none of them may contain NUL.
func (s Stem) Key() string {
	return s.Namespace + "\x00" + s.AUID + "\x00" + s.URI
}

// Artifact is the index record for one stored capture: identifier plus
// commit state and storage metadata.
type Artifact struct {
	Identifier

	// Committed reports whether the artifact has been made permanent.
	// Transitions false to true exactly once.
	Committed bool `json:"committed"`

	// StorageURL is the opaque locator into the data store, assigned at
	// persist time and stable for the artifact's life.
	StorageURL string `json:"storageUrl"`

	// ContentLength is the size of the raw content in bytes.
	ContentLength int64 `json:"contentLength"`

	// ContentDigest is the cryptographic hash of the raw content bytes,
	// in "algorithm:hex" form.
	ContentDigest string `json:"contentDigest"`

	// CollectionDate is the capture time in epoch milliseconds.
	// Defaults to the time of addition.
	CollectionDate int64 `json:"collectionDate"`
}

// New creates an uncommitted artifact for the given identifier with the
// collection date defaulted to now.
func New(id Identifier) Artifact {
	return Artifact{
		Identifier:     id,
		CollectionDate: time.Now().UnixMilli(),
	}
}

// WithStorageURL returns a copy with the storage locator set.
func (a Artifact) WithStorageURL(u string) Artifact {
	a.StorageURL = u
	return a
}

// WithContent returns a copy with the content length and digest set.
func (a Artifact) WithContent(length int64, digest string) Artifact {
	a.ContentLength = length
	a.ContentDigest = digest
	return a
}
