package warc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
	"github.com/preservio/arcrepo/infrastructure/logging"
)

// Reindex walks every WARC volume and rebuilds the index from the
// durable store. Volumes are scanned in parallel; records without a
// state file correspond to deleted artifacts and are skipped. Malformed
// trailing data in a volume stops that volume's scan with a warning but
// does not fail the rebuild.
func (s *Store) Reindex(ctx context.Context, idx index.Index) error {
	volumes, err := s.walkVolumes()
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(s.reindexWorkers).WithContext(ctx).WithCancelOnError()
	for _, volPath := range volumes {
		p.Go(func(ctx context.Context) error {
			return s.reindexVolume(ctx, volPath, idx)
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("%w: reindex: %w", artifact.ErrStorage, err)
	}

	logging.Info().Int("volumes", len(volumes)).Msg("index rebuilt from data store")
	return nil
}

// reindexVolume scans one volume record by record.
func (s *Store) reindexVolume(ctx context.Context, volPath string, idx index.Index) error {
	f, err := os.Open(volPath)
	if err != nil {
		return fmt.Errorf("opening volume %s: %w", volPath, err)
	}
	defer f.Close() // #nosec G104 -- read-only

	r := NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			logging.Warn().Str("volume", volPath).Err(err).Msg("stopping volume scan at malformed record")
			return nil
		}

		uuid := recordUUID(rec)
		if uuid == "" {
			continue
		}

		state, err := s.readState(uuid)
		if errors.Is(err, artifact.ErrNotFound) {
			continue // deleted artifact
		}
		if err != nil {
			return err
		}

		if err := idx.Add(ctx, state); err != nil {
			return fmt.Errorf("indexing %s: %w", uuid, err)
		}
		if state.Committed {
			if _, err := idx.Commit(ctx, uuid); err != nil {
				return fmt.Errorf("committing %s in index: %w", uuid, err)
			}
		}
	}
}

// recordUUID extracts the bare uuid from a WARC-Record-ID field of the
// form <urn:uuid:...>.
func recordUUID(rec *Record) string {
	id := rec.Fields.Get(FieldRecordID)
	id = strings.TrimPrefix(strings.TrimSuffix(id, ">"), "<")
	return strings.TrimPrefix(id, "urn:uuid:")
}
