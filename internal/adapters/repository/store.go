// Package repository defines the snapshot store contract, its validation
// rules and the in-memory implementation. SQL and columnar backends live in
// sub-packages and share the conformance suite in storetest.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
)

// Store is an append-only record of chart snapshots.
//
// A snapshot is identified by (cadence, snapshot time). When several batches
// were appended for the same pair, the most recently appended one is the
// effective snapshot for every read.
type Store interface {
	// Append persists a batch atomically: after a failed Append no entry of
	// the batch is visible.
	Append(ctx context.Context, batch model.Batch) error

	// LatestSnapshotTime returns the greatest snapshot time for c.
	// ok is false when c has no snapshots.
	LatestSnapshotTime(ctx context.Context, c cadence.Cadence) (t time.Time, ok bool, err error)

	// EntriesAt returns the snapshot at (c, t) ordered by rank ascending.
	// An unknown pair yields an empty slice.
	EntriesAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.Entry, error)

	// MostRecentPriorEntry returns the item's entry in the latest snapshot of
	// c strictly before the given time that contains the item.
	MostRecentPriorEntry(ctx context.Context, c cadence.Cadence, itemID string, before time.Time) (e model.Entry, ok bool, err error)

	// SnapshotTimeBefore returns the greatest snapshot time of c strictly
	// before the given time.
	SnapshotTimeBefore(ctx context.Context, c cadence.Cadence, before time.Time) (t time.Time, ok bool, err error)

	// SnapshotTimes lists distinct snapshot times of c, newest first.
	SnapshotTimes(ctx context.Context, c cadence.Cadence, limit int) ([]time.Time, error)

	Close() error
}

// CountStore persists the running play count of every item so counters
// survive a restart. Saves are full upserts of the given counts.
type CountStore interface {
	LoadPlayCounts(ctx context.Context) (map[string]int64, error)
	SavePlayCounts(ctx context.Context, counts map[string]int64) error
}

// ValidateBatch checks the structural invariants of a batch: a known cadence,
// at least one entry, every entry stamped with the batch cadence, time and
// run id, ranks contiguous from 1 and unique items.
func ValidateBatch(b model.Batch) error {
	if !b.Cadence.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidBatch, cadence.ErrInvalidCadence, b.Cadence)
	}
	if len(b.Entries) == 0 {
		return ErrEmptyBatch
	}
	if b.SnapshotTime.IsZero() {
		return fmt.Errorf("%w: zero snapshot time", ErrInvalidBatch)
	}
	if b.RunID == "" {
		return fmt.Errorf("%w: missing run id", ErrInvalidBatch)
	}
	items := make(map[string]struct{}, len(b.Entries))
	for i, e := range b.Entries {
		switch {
		case e.Cadence != b.Cadence:
			return fmt.Errorf("%w: entry %d cadence %q differs from batch %q", ErrInvalidBatch, i, e.Cadence, b.Cadence)
		case !e.SnapshotTime.Equal(b.SnapshotTime):
			return fmt.Errorf("%w: entry %d has a different snapshot time", ErrInvalidBatch, i)
		case e.RunID != b.RunID:
			return fmt.Errorf("%w: entry %d has a different run id", ErrInvalidBatch, i)
		case e.Rank != i+1:
			return fmt.Errorf("%w: entry %d has rank %d, want %d", ErrInvalidBatch, i, e.Rank, i+1)
		case e.ItemID == "":
			return fmt.Errorf("%w: entry %d has no item id", ErrInvalidBatch, i)
		case e.PrevRank != nil && *e.PrevRank < 1:
			return fmt.Errorf("%w: entry %d has prev rank %d", ErrInvalidBatch, i, *e.PrevRank)
		}
		if _, dup := items[e.ItemID]; dup {
			return fmt.Errorf("%w: item %q appears twice", ErrInvalidBatch, e.ItemID)
		}
		items[e.ItemID] = struct{}{}
	}
	return nil
}

// UTCMicro normalises a snapshot time to the precision every backend keeps.
func UTCMicro(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
