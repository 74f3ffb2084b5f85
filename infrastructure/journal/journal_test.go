package journal_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/infrastructure/index/memory"
	"github.com/preservio/arcrepo/infrastructure/journal"
)

func makeArtifact(uri string, version int) artifact.Artifact {
	a := artifact.New(artifact.NewIdentifier("web", "au1", uri, version))
	a.ContentLength = 42
	a.ContentDigest = "sha256:abc"
	a.StorageURL = "warc:///vol?offset=0&length=1"
	return a
}

func TestAppendFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	a := makeArtifact("https://example.org/a", 1)
	if err := j.Add(a); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := j.Committed(a.UUID); err != nil {
		t.Fatalf("Committed() = %v", err)
	}
	if err := j.StorageURL(a.UUID, "warc:///moved?offset=1&length=2"); err != nil {
		t.Fatalf("StorageURL() = %v", err)
	}
	if err := j.Delete(a.UUID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer f.Close()

	var records []journal.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec journal.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshaling line: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 4 {
		t.Fatalf("journal has %d records, want 4", len(records))
	}
	wantOps := []journal.Op{journal.OpAdd, journal.OpUpdateCommitted, journal.OpUpdateStorageURL, journal.OpDelete}
	for i, rec := range records {
		if rec.Op != wantOps[i] {
			t.Errorf("record %d op = %q, want %q", i, rec.Op, wantOps[i])
		}
		if rec.UUID != a.UUID {
			t.Errorf("record %d uuid = %q, want %q", i, rec.UUID, a.UUID)
		}
		if rec.Time == 0 {
			t.Errorf("record %d has no timestamp", i)
		}
	}

	var snapshot artifact.Artifact
	if err := json.Unmarshal(records[0].Data, &snapshot); err != nil {
		t.Fatalf("unmarshaling ADD snapshot: %v", err)
	}
	if snapshot != a {
		t.Errorf("ADD snapshot = %+v, want %+v", snapshot, a)
	}
}

func TestReplayRebuildsIndex(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	committed := makeArtifact("https://example.org/a", 1)
	abandoned := makeArtifact("https://example.org/a", 2)
	pending := makeArtifact("https://example.org/b", 1)

	for _, a := range []artifact.Artifact{committed, abandoned, pending} {
		if err := j.Add(a); err != nil {
			t.Fatalf("Add() = %v", err)
		}
	}
	if err := j.Committed(committed.UUID); err != nil {
		t.Fatalf("Committed() = %v", err)
	}
	if err := j.Delete(abandoned.UUID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	idx := memory.NewIndex()
	ctx := context.Background()
	applied, skipped, err := journal.Replay(ctx, path, idx)
	if err != nil {
		t.Fatalf("Replay() = %v", err)
	}
	if applied != 5 || skipped != 0 {
		t.Errorf("Replay() applied %d, skipped %d; want 5, 0", applied, skipped)
	}

	got, err := idx.Get(ctx, "web", "au1", "https://example.org/a", false)
	if err != nil {
		t.Fatalf("Get(a) = %v", err)
	}
	if got.UUID != committed.UUID || !got.Committed {
		t.Errorf("Get(a) = %+v, want committed v1", got)
	}

	if _, err := idx.GetByUUID(ctx, abandoned.UUID); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("abandoned artifact survived replay: %v", err)
	}

	got, err = idx.Get(ctx, "web", "au1", "https://example.org/b", true)
	if err != nil {
		t.Fatalf("Get(b) = %v", err)
	}
	if got.Committed {
		t.Error("pending artifact replayed as committed")
	}

	// The journal must be renamed out of the way.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("journal still present after replay: %v", err)
	}
	if _, err := os.Stat(path + journal.ReplayedSuffix); err != nil {
		t.Errorf("replayed journal not preserved: %v", err)
	}
}

func TestReplayIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}

	a := makeArtifact("https://example.org/a", 1)
	if err := j.Add(a); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := j.Committed(a.UUID); err != nil {
		t.Fatalf("Committed() = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	// Apply against an index that already has the final state, as after a
	// crash between index update and journal truncation.
	idx := memory.NewIndex()
	ctx := context.Background()
	done := a
	done.Committed = true
	if err := idx.Add(ctx, done); err != nil {
		t.Fatalf("priming index: %v", err)
	}

	if _, _, err := journal.Replay(ctx, path, idx); err != nil {
		t.Fatalf("Replay() = %v", err)
	}

	got, err := idx.GetByUUID(ctx, a.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() = %v", err)
	}
	if !got.Committed {
		t.Error("replay un-committed the artifact")
	}
	if idx.Len() != 1 {
		t.Errorf("index has %d records, want 1", idx.Len())
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	a := makeArtifact("https://example.org/a", 1)
	if err := j.Add(a); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	// Simulate a crash mid-append: a truncated trailing line.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	if _, err := f.WriteString(`{"time":123,"op":"ADD","arti`); err != nil {
		t.Fatalf("appending garbage: %v", err)
	}
	f.Close()

	idx := memory.NewIndex()
	applied, skipped, err := journal.Replay(context.Background(), path, idx)
	if err != nil {
		t.Fatalf("Replay() = %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestReplayMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := journal.Replay(context.Background(), filepath.Join(t.TempDir(), "absent"), memory.NewIndex())
	if !errors.Is(err, artifact.ErrStorage) {
		t.Errorf("Replay(absent) = %v, want ErrStorage", err)
	}
}
