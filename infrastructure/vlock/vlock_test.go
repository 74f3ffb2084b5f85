package vlock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/infrastructure/vlock"
)

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	tbl := vlock.NewTable(8)
	ctx := context.Background()

	if err := tbl.Acquire(ctx, "k"); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	tbl.Release("k")

	if err := tbl.Acquire(ctx, "k"); err != nil {
		t.Fatalf("Acquire() after release = %v", err)
	}
	tbl.Release("k")
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	t.Parallel()

	tbl := vlock.NewTable(8)
	ctx := context.Background()

	if err := tbl.Acquire(ctx, "k"); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := tbl.Acquire(ctx, "k"); err != nil {
			t.Errorf("second Acquire() = %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	tbl.Release("k")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
	tbl.Release("k")
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	tbl := vlock.NewTable(8)
	if err := tbl.Acquire(context.Background(), "k"); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	defer tbl.Release("k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tbl.Acquire(ctx, "k")
	if !errors.Is(err, artifact.ErrStorage) {
		t.Errorf("Acquire() = %v, want ErrStorage", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() = %v, want DeadlineExceeded in chain", err)
	}
}

func TestReleaseUnheldPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic releasing an unheld lock")
		}
	}()
	vlock.NewTable(8).Release("never-held")
}

func TestWithLockReleasesOnError(t *testing.T) {
	t.Parallel()

	tbl := vlock.NewTable(8)
	ctx := context.Background()
	wantErr := errors.New("boom")

	if err := tbl.WithLock(ctx, "k", func(context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("WithLock() = %v, want %v", err, wantErr)
	}

	// The stripe must be free again.
	if err := tbl.Acquire(ctx, "k"); err != nil {
		t.Fatalf("Acquire() after failed WithLock = %v", err)
	}
	tbl.Release("k")
}

func TestWithLockMutualExclusion(t *testing.T) {
	t.Parallel()

	tbl := vlock.NewTable(vlock.DefaultStripes)
	ctx := context.Background()

	const workers = 32
	counter := 0

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tbl.WithLock(ctx, "shared", func(context.Context) error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("WithLock() = %v", err)
			}
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	t.Parallel()

	tbl := vlock.NewTable(vlock.DefaultStripes)
	ctx := context.Background()

	// With 1024 stripes these two keys land on distinct stripes.
	if err := tbl.Acquire(ctx, "a"); err != nil {
		t.Fatalf("Acquire(a) = %v", err)
	}
	defer tbl.Release("a")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		done <- tbl.WithLock(ctx, "b", func(context.Context) error { return nil })
	}()

	if err := <-done; err != nil {
		t.Errorf("WithLock(b) while holding a = %v", err)
	}
}
