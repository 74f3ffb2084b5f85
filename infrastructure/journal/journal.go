// Package journal provides the write-ahead log of index mutations used
// for crash recovery and replay.
//
// The journal is a line-oriented file of JSON records. Every
// index-mutating call is appended before it is applied to the index, so
// a crash between a data-store write and its index update can be healed
// by replaying the journal. All four operations are idempotent to
// replay.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/preservio/arcrepo/domain/artifact"
)

// Op identifies one kind of index mutation.
type Op string

// Journaled index mutations.
const (
	OpAdd              Op = "ADD"
	OpUpdateCommitted  Op = "UPDATE_COMMITTED"
	OpUpdateStorageURL Op = "UPDATE_STORAGEURL"
	OpDelete           Op = "DELETE"
)

// ReplayedSuffix is appended to a journal file's name after a successful
// replay, preserving it as a forensic trail.
const ReplayedSuffix = ".replayed"

// Record is one journal entry.
type Record struct {
	// Time is the mutation time in epoch milliseconds.
	Time int64 `json:"time"`

	// Op is the mutation kind.
	Op Op `json:"op"`

	// UUID identifies the artifact the mutation applies to.
	UUID string `json:"artifactUuid"`

	// Data is the op-specific payload: the full artifact snapshot for
	// ADD, the new locator string for UPDATE_STORAGEURL, empty otherwise.
	Data json.RawMessage `json:"data,omitempty"`
}

// Journal appends mutation records durably. Safe for concurrent use;
// records are appended in the order their mutations are issued and each
// record is written atomically with respect to other appenders.
type Journal struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// Open opens (creating if needed) a journal file for appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: opening journal: %w", artifact.ErrStorage, err)
	}
	return &Journal{
		f:    f,
		w:    bufio.NewWriter(f),
		path: path,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// append writes one record and flushes it to the file.
func (j *Journal) append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("%w: appending journal record: %w", artifact.ErrStorage, err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: appending journal record: %w", artifact.ErrStorage, err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("%w: flushing journal: %w", artifact.ErrStorage, err)
	}
	return nil
}

// Add journals the addition of a new artifact with a full metadata snapshot.
func (j *Journal) Add(a artifact.Artifact) error {
	snapshot, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return j.append(Record{
		Time: time.Now().UnixMilli(),
		Op:   OpAdd,
		UUID: a.UUID,
		Data: snapshot,
	})
}

// Committed journals an artifact's transition to committed.
func (j *Journal) Committed(uuid string) error {
	return j.append(Record{
		Time: time.Now().UnixMilli(),
		Op:   OpUpdateCommitted,
		UUID: uuid,
	})
}

// StorageURL journals a storage locator change.
func (j *Journal) StorageURL(uuid, storageURL string) error {
	data, err := json.Marshal(storageURL)
	if err != nil {
		return err
	}
	return j.append(Record{
		Time: time.Now().UnixMilli(),
		Op:   OpUpdateStorageURL,
		UUID: uuid,
		Data: data,
	})
}

// Delete journals an artifact's removal.
func (j *Journal) Delete(uuid string) error {
	return j.append(Record{
		Time: time.Now().UnixMilli(),
		Op:   OpDelete,
		UUID: uuid,
	})
}

// Sync forces journal contents to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("%w: flushing journal: %w", artifact.ErrStorage, err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing journal: %w", artifact.ErrStorage, err)
	}
	return nil
}

// Close flushes, syncs, and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.w.Flush(); err != nil {
		return err
	}
	if err := j.f.Sync(); err != nil {
		return err
	}
	return j.f.Close()
}
