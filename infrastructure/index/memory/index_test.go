package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/infrastructure/index/memory"
)

func makeArtifact(ns, auid, uri string, version int, committed bool) artifact.Artifact {
	a := artifact.New(artifact.NewIdentifier(ns, auid, uri, version))
	a.Committed = committed
	a.ContentLength = int64(100 * version)
	a.ContentDigest = "sha256:digest"
	a.StorageURL = "warc:///vol?offset=0&length=1"
	return a
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	v1 := makeArtifact("web", "au1", "https://example.org/a", 1, true)
	v2 := makeArtifact("web", "au1", "https://example.org/a", 2, false)

	if err := x.Add(ctx, v1); err != nil {
		t.Fatalf("Add(v1) = %v", err)
	}
	if err := x.Add(ctx, v2); err != nil {
		t.Fatalf("Add(v2) = %v", err)
	}

	t.Run("committed only", func(t *testing.T) {
		got, err := x.Get(ctx, "web", "au1", "https://example.org/a", false)
		if err != nil {
			t.Fatalf("Get() = %v", err)
		}
		if got.UUID != v1.UUID {
			t.Errorf("Get() returned %s, want committed v1 %s", got.UUID, v1.UUID)
		}
	})

	t.Run("include uncommitted", func(t *testing.T) {
		got, err := x.Get(ctx, "web", "au1", "https://example.org/a", true)
		if err != nil {
			t.Fatalf("Get() = %v", err)
		}
		if got.UUID != v2.UUID {
			t.Errorf("Get() returned %s, want uncommitted v2 %s", got.UUID, v2.UUID)
		}
	})

	t.Run("unknown stem", func(t *testing.T) {
		if _, err := x.Get(ctx, "web", "au1", "https://example.org/missing", true); !errors.Is(err, artifact.ErrNotFound) {
			t.Errorf("Get(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("bad namespace", func(t *testing.T) {
		if _, err := x.Get(ctx, "no space", "au1", "u", true); !errors.Is(err, artifact.ErrInvalidNamespace) {
			t.Errorf("Get(bad ns) = %v, want ErrInvalidNamespace", err)
		}
	})
}

func TestAddIdempotent(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	a := makeArtifact("web", "au1", "https://example.org/a", 1, false)
	if err := x.Add(ctx, a); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := x.Add(ctx, a); err != nil {
		t.Fatalf("re-Add() = %v", err)
	}
	if got := x.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestAddInvalid(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	err := x.Add(context.Background(), artifact.Artifact{})
	if !errors.Is(err, artifact.ErrInvalidArtifact) {
		t.Errorf("Add(zero) = %v, want ErrInvalidArtifact", err)
	}
}

func TestGetVersion(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	v1 := makeArtifact("web", "au1", "https://example.org/a", 1, true)
	v3 := makeArtifact("web", "au1", "https://example.org/a", 3, true)
	for _, a := range []artifact.Artifact{v1, v3} {
		if err := x.Add(ctx, a); err != nil {
			t.Fatalf("Add() = %v", err)
		}
	}

	got, err := x.GetVersion(ctx, "web", "au1", "https://example.org/a", 1, false)
	if err != nil {
		t.Fatalf("GetVersion(1) = %v", err)
	}
	if got.UUID != v1.UUID {
		t.Errorf("GetVersion(1) = %s, want %s", got.UUID, v1.UUID)
	}

	// Version 2 was never added; the gap stays a gap.
	if _, err := x.GetVersion(ctx, "web", "au1", "https://example.org/a", 2, true); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("GetVersion(2) = %v, want ErrNotFound", err)
	}
}

func TestGetByUUID(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	a := makeArtifact("web", "au1", "https://example.org/a", 1, false)
	if err := x.Add(ctx, a); err != nil {
		t.Fatalf("Add() = %v", err)
	}

	got, err := x.GetByUUID(ctx, a.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() = %v", err)
	}
	if got.URI != a.URI {
		t.Errorf("GetByUUID().URI = %q, want %q", got.URI, a.URI)
	}

	if _, err := x.GetByUUID(ctx, "nope"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("GetByUUID(unknown) = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	aV1 := makeArtifact("web", "au1", "https://example.org/a", 1, true)
	aV2 := makeArtifact("web", "au1", "https://example.org/a", 2, true)
	aV3 := makeArtifact("web", "au1", "https://example.org/a", 3, false) // uncommitted
	b := makeArtifact("web", "au1", "https://example.org/b", 1, true)
	other := makeArtifact("web", "au2", "https://example.org/a", 1, true)
	foreign := makeArtifact("img", "au1", "https://example.org/a", 1, true)

	for _, a := range []artifact.Artifact{aV1, aV2, aV3, b, other, foreign} {
		if err := x.Add(ctx, a); err != nil {
			t.Fatalf("Add() = %v", err)
		}
	}

	t.Run("latest committed per uri", func(t *testing.T) {
		got, err := x.List(ctx, "web", "au1")
		if err != nil {
			t.Fatalf("List() = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List() returned %d artifacts, want 2", len(got))
		}
		if got[0].UUID != aV2.UUID {
			t.Errorf("List()[0] = v%d %s, want committed v2", got[0].Version, got[0].UUID)
		}
		if got[1].UUID != b.UUID {
			t.Errorf("List()[1] = %s, want %s", got[1].UUID, b.UUID)
		}
	})

	t.Run("all versions committed", func(t *testing.T) {
		got, err := x.ListAllVersions(ctx, "web", "au1", false)
		if err != nil {
			t.Fatalf("ListAllVersions() = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListAllVersions() returned %d, want 3", len(got))
		}
		// Highest version first within a stem.
		if got[0].Version != 2 || got[1].Version != 1 {
			t.Errorf("unexpected version order: %d, %d", got[0].Version, got[1].Version)
		}
	})

	t.Run("all versions including uncommitted", func(t *testing.T) {
		got, err := x.ListAllVersions(ctx, "web", "au1", true)
		if err != nil {
			t.Fatalf("ListAllVersions() = %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("ListAllVersions(uncommitted) returned %d, want 4", len(got))
		}
	})

	t.Run("prefix", func(t *testing.T) {
		got, err := x.ListWithPrefix(ctx, "web", "au1", "https://example.org/b")
		if err != nil {
			t.Fatalf("ListWithPrefix() = %v", err)
		}
		if len(got) != 1 || got[0].UUID != b.UUID {
			t.Errorf("ListWithPrefix() = %v, want only b", got)
		}
	})

	t.Run("all aus", func(t *testing.T) {
		got, err := x.ListAllVersionsAllAus(ctx, "web", "https://example.org/a")
		if err != nil {
			t.Fatalf("ListAllVersionsAllAus() = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListAllVersionsAllAus() returned %d, want 3", len(got))
		}
	})

	t.Run("prefix all aus", func(t *testing.T) {
		got, err := x.ListWithPrefixAllAus(ctx, "web", "https://example.org/")
		if err != nil {
			t.Fatalf("ListWithPrefixAllAus() = %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("ListWithPrefixAllAus() returned %d, want 4", len(got))
		}
	})
}

func TestCommitIdempotent(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	a := makeArtifact("web", "au1", "https://example.org/a", 1, false)
	if err := x.Add(ctx, a); err != nil {
		t.Fatalf("Add() = %v", err)
	}

	first, err := x.Commit(ctx, a.UUID)
	if err != nil {
		t.Fatalf("Commit() = %v", err)
	}
	if !first.Committed {
		t.Error("Commit() did not mark the artifact committed")
	}

	second, err := x.Commit(ctx, a.UUID)
	if err != nil {
		t.Fatalf("second Commit() = %v", err)
	}
	if second != first {
		t.Errorf("second Commit() = %+v, want identical to first", second)
	}

	if _, err := x.Commit(ctx, "unknown"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Commit(unknown) = %v, want ErrNotFound", err)
	}
}

func TestUpdateStorageURL(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	a := makeArtifact("web", "au1", "https://example.org/a", 1, false)
	if err := x.Add(ctx, a); err != nil {
		t.Fatalf("Add() = %v", err)
	}

	got, err := x.UpdateStorageURL(ctx, a.UUID, "warc:///moved?offset=9&length=9")
	if err != nil {
		t.Fatalf("UpdateStorageURL() = %v", err)
	}
	if got.StorageURL != "warc:///moved?offset=9&length=9" {
		t.Errorf("StorageURL = %q", got.StorageURL)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	a := makeArtifact("web", "au1", "https://example.org/a", 1, true)
	if err := x.Add(ctx, a); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := x.Delete(ctx, a.UUID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if _, err := x.GetByUUID(ctx, a.UUID); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("GetByUUID after delete = %v, want ErrNotFound", err)
	}
	if err := x.Delete(ctx, a.UUID); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestAuSize(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	// Two committed versions of /a (100 and 200 bytes), one committed /b
	// (100 bytes), one uncommitted /c.
	for _, a := range []artifact.Artifact{
		makeArtifact("web", "au1", "https://example.org/a", 1, true),
		makeArtifact("web", "au1", "https://example.org/a", 2, true),
		makeArtifact("web", "au1", "https://example.org/b", 1, true),
		makeArtifact("web", "au1", "https://example.org/c", 1, false),
	} {
		if err := x.Add(ctx, a); err != nil {
			t.Fatalf("Add() = %v", err)
		}
	}

	size, err := x.AuSize(ctx, "web", "au1")
	if err != nil {
		t.Fatalf("AuSize() = %v", err)
	}
	if size.TotalAllVersions != 400 {
		t.Errorf("TotalAllVersions = %d, want 400", size.TotalAllVersions)
	}
	if size.TotalLatestVersions != 300 {
		t.Errorf("TotalLatestVersions = %d, want 300", size.TotalLatestVersions)
	}
}

func TestNamespacesAndAuIDs(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx := context.Background()

	for _, a := range []artifact.Artifact{
		makeArtifact("web", "au1", "https://example.org/a", 1, true),
		makeArtifact("web", "au2", "https://example.org/a", 1, true),
		makeArtifact("img", "au9", "https://example.org/i", 1, true),
	} {
		if err := x.Add(ctx, a); err != nil {
			t.Fatalf("Add() = %v", err)
		}
	}

	namespaces, err := x.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces() = %v", err)
	}
	if len(namespaces) != 2 || namespaces[0] != "img" || namespaces[1] != "web" {
		t.Errorf("Namespaces() = %v, want [img web]", namespaces)
	}

	auids, err := x.AuIDs(ctx, "web")
	if err != nil {
		t.Fatalf("AuIDs() = %v", err)
	}
	if len(auids) != 2 || auids[0] != "au1" || auids[1] != "au2" {
		t.Errorf("AuIDs() = %v, want [au1 au2]", auids)
	}
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	x := memory.NewIndex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := x.Add(ctx, makeArtifact("web", "au1", "u", 1, false)); !errors.Is(err, context.Canceled) {
		t.Errorf("Add(cancelled) = %v, want context.Canceled", err)
	}
	if _, err := x.Get(ctx, "web", "au1", "u", true); !errors.Is(err, context.Canceled) {
		t.Errorf("Get(cancelled) = %v, want context.Canceled", err)
	}
}
