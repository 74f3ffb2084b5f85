package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/preservio/arcrepo/domain/artifact"
	"github.com/preservio/arcrepo/domain/index"
	"github.com/preservio/arcrepo/infrastructure/logging"
)

// maxRecordSize bounds one journal line during replay.
const maxRecordSize = 4 << 20

// Replay applies a prior journal file to the index in timestamp order,
// then renames the file with ReplayedSuffix. Unreadable or malformed
// records are skipped with a warning; replay is best-effort. Returns the
// number of records applied and the number skipped.
func Replay(ctx context.Context, path string, idx index.Index) (applied, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: opening journal for replay: %w", artifact.ErrStorage, err)
	}
	defer f.Close() // #nosec G104 -- read-only

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			logging.Warn().Str("journal", path).Int("line", line).Err(err).Msg("skipping malformed journal record")
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		// A truncated tail is expected after a crash mid-append.
		logging.Warn().Str("journal", path).Err(err).Msg("journal ends with unreadable data")
	}

	slices.SortStableFunc(records, func(a, b Record) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return applied, skipped, err
		}
		if err := apply(ctx, idx, rec); err != nil {
			logging.Warn().Str("journal", path).Str("uuid", rec.UUID).Str("op", string(rec.Op)).Err(err).Msg("skipping unreplayable journal record")
			skipped++
			continue
		}
		applied++
	}

	if err := os.Rename(path, path+ReplayedSuffix); err != nil {
		return applied, skipped, fmt.Errorf("%w: renaming replayed journal: %w", artifact.ErrStorage, err)
	}

	logging.Info().Str("journal", path).Int("applied", applied).Int("skipped", skipped).Msg("journal replay complete")
	return applied, skipped, nil
}

// apply replays one record against the index. Each op is idempotent:
// re-adding an existing UUID is a no-op, commit and delete tolerate
// repetition, and storage-url updates simply overwrite.
func apply(ctx context.Context, idx index.Index, rec Record) error {
	switch rec.Op {
	case OpAdd:
		var a artifact.Artifact
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return err
		}
		return idx.Add(ctx, a)

	case OpUpdateCommitted:
		_, err := idx.Commit(ctx, rec.UUID)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil
		}
		return err

	case OpUpdateStorageURL:
		var u string
		if err := json.Unmarshal(rec.Data, &u); err != nil {
			return err
		}
		_, err := idx.UpdateStorageURL(ctx, rec.UUID, u)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil
		}
		return err

	case OpDelete:
		err := idx.Delete(ctx, rec.UUID)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown journal op %q", rec.Op)
	}
}
