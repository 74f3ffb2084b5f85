//go:build unix

package warc

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/storage"
)

// statFS reports the backing filesystem's capacity in kilobytes.
func statFS(path string) (storage.Info, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return storage.Info{}, fmt.Errorf("%w: statfs %s: %w", artifact.ErrStorage, path, err)
	}

	bs := int64(st.Bsize)
	total := int64(st.Blocks) * bs / 1024
	avail := int64(st.Bavail) * bs / 1024
	free := int64(st.Bfree) * bs / 1024

	return storage.Info{
		Type:    "warc",
		Name:    path,
		SizeKB:  total,
		UsedKB:  total - free,
		AvailKB: avail,
	}, nil
}
