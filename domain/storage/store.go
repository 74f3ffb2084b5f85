// Package storage defines the durable byte store for artifact content.
// Implementations are in infrastructure.
package storage

import (
	"context"
	"io"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
)

// DataStore is the authoritative durable store of artifact bytes. It owns
// the staged-to-permanent commit transition; the index is rebuilt from it
// when lost.
type DataStore interface {
	// AddArtifactData persists the headers and content durably and
	// returns the artifact with its storage locator filled in. The
	// artifact is not yet visible or committed.
	AddArtifactData(ctx context.Context, data *artifact.Data) (artifact.Artifact, error)

	// CommitArtifactData performs the durable staged-to-permanent
	// transition for a previously added artifact.
	CommitArtifactData(ctx context.Context, a artifact.Artifact) error

	// GetArtifactData re-opens the stored bytes and headers for reading.
	// The returned content stream supports re-read via a fresh call,
	// not via seeking.
	GetArtifactData(ctx context.Context, a artifact.Artifact) (*artifact.Data, error)

	// DeleteArtifactData removes the artifact's durable state
	// irrecoverably.
	DeleteArtifactData(ctx context.Context, a artifact.Artifact) error

	// Reindex walks every artifact ever durably stored and rebuilds the
	// given index from scratch.
	Reindex(ctx context.Context, idx index.Index) error

	// StorageInfo reports capacity and usage of the backing volume.
	StorageInfo(ctx context.Context) (Info, error)

	io.Closer
}

// Info describes the data store's backing volume.
type Info struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	SizeKB  int64  `json:"sizeKB"`
	UsedKB  int64  `json:"usedKB"`
	AvailKB int64  `json:"availKB"`
}
