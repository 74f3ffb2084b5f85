// Package vlock provides the per-stem version lock table guaranteeing
// safe version assignment under concurrent writers.
//
// The table is a fixed-size array of striped binary semaphores keyed by a
// hash of the stem key. Two different stems may rarely hash to the same
// stripe and contend falsely; in exchange, memory stays bounded for the
// process lifetime regardless of how many stems are written.
package vlock

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/preservio/arcrepo/domain/artifact"
)

// DefaultStripes is the default number of lock stripes.
const DefaultStripes = 1024

// Table is a fixed-size striped lock table. The zero value is not usable;
// create one with NewTable.
type Table struct {
	stripes []chan struct{}
}

// NewTable creates a lock table with the given stripe count. Non-positive
// counts fall back to DefaultStripes.
func NewTable(stripes int) *Table {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	t := &Table{stripes: make([]chan struct{}, stripes)}
	for i := range t.stripes {
		t.stripes[i] = make(chan struct{}, 1)
	}
	return t
}

// stripe selects the semaphore for a stem key by FNV-1a hash.
func (t *Table) stripe(key string) chan struct{} {
	h := fnv.New32a()
	h.Write([]byte(key)) // #nosec G104 -- fnv hash writes cannot fail
	return t.stripes[h.Sum32()%uint32(len(t.stripes))]
}

// Acquire blocks until the stripe for key is free, then takes it.
// Interrupted waits are surfaced as a storage error, never ignored.
func (t *Table) Acquire(ctx context.Context, key string) error {
	select {
	case t.stripe(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: interrupted acquiring version lock: %w", artifact.ErrStorage, ctx.Err())
	}
}

// Release frees the stripe for key. Releasing an unheld stripe panics,
// matching sync.Mutex semantics.
func (t *Table) Release(key string) {
	select {
	case <-t.stripe(key):
	default:
		panic("vlock: release of unheld lock for key " + key)
	}
}

// WithLock runs fn while holding the stripe for key, releasing it even if
// fn returns an error or panics.
func (t *Table) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := t.Acquire(ctx, key); err != nil {
		return err
	}
	defer t.Release(key)
	return fn(ctx)
}
