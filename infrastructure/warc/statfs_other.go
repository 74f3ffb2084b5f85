//go:build !unix

package warc

import (
	"github.com/preservio/arcrepo/domain/storage"
)

// statFS has no portable implementation off unix; capacity fields are
// left zero.
func statFS(path string) (storage.Info, error) {
	return storage.Info{
		Type: "warc",
		Name: path,
	}, nil
}
