package application

import (
	"github.com/preservio/arcrepo/domain/index"
	"github.com/preservio/arcrepo/domain/storage"
	"github.com/preservio/arcrepo/infrastructure/vlock"
)

// Option configures the repository facade.
type Option func(*Repository)

// WithIndex sets the artifact index backend.
func WithIndex(idx index.Index) Option {
	return func(r *Repository) {
		r.idx = idx
	}
}

// WithStore sets the artifact data store.
func WithStore(store storage.DataStore) Option {
	return func(r *Repository) {
		r.store = store
	}
}

// WithJournalPath sets the commit journal file path. An empty path
// disables journaling; crash recovery then relies on reindex alone.
func WithJournalPath(path string) Option {
	return func(r *Repository) {
		r.journalPath = path
	}
}

// WithLockTable sets the version lock table.
func WithLockTable(t *vlock.Table) Option {
	return func(r *Repository) {
		r.locks = t
	}
}

// WithForceReindex makes Init rebuild the index from the data store
// even if the index is non-empty.
func WithForceReindex() Option {
	return func(r *Repository) {
		r.forceReindex = true
	}
}
