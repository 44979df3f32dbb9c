// Package query serves published charts: it reads snapshots from the store
// and joins them with catalog metadata. It never triggers a computation.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/chartsnap/internal/adapters/catalog"
	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/pkg/logger"
)

// ErrSnapshotNotFound is returned by At when no snapshot exists at the time.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Reader is the read side of the snapshot store.
type Reader interface {
	LatestSnapshotTime(ctx context.Context, c cadence.Cadence) (time.Time, bool, error)
	EntriesAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.Entry, error)
	SnapshotTimes(ctx context.Context, c cadence.Cadence, limit int) ([]time.Time, error)
}

var _ Reader = (repository.Store)(nil)

// Facade answers chart queries.
type Facade struct {
	store   Reader
	catalog catalog.Catalog
	logger  logger.Logger
}

// New returns a Facade. A nil catalog enriches every row with empty metadata.
func New(store Reader, cat catalog.Catalog, log logger.Logger) *Facade {
	if cat == nil {
		cat = catalog.NewMemory()
	}
	if log == nil {
		log = logger.Get().Named("query")
	}
	return &Facade{store: store, catalog: cat, logger: log}
}

// Leaderboard returns the latest snapshot of c ordered by rank. A cadence
// that was never computed yields an empty, non-nil slice.
func (f *Facade) Leaderboard(ctx context.Context, c cadence.Cadence) ([]model.ChartRow, error) {
	if !c.Valid() {
		return nil, &cadence.ParseError{Token: string(c)}
	}
	latest, ok, err := f.store.LatestSnapshotTime(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot time: %w", err)
	}
	if !ok {
		return []model.ChartRow{}, nil
	}
	return f.rowsAt(ctx, c, latest)
}

// At returns the snapshot of c taken exactly at t.
func (f *Facade) At(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.ChartRow, error) {
	if !c.Valid() {
		return nil, &cadence.ParseError{Token: string(c)}
	}
	rows, err := f.rowsAt(ctx, c, t)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrSnapshotNotFound, c, t.UTC().Format(time.RFC3339Nano))
	}
	return rows, nil
}

// History lists snapshot times of c, newest first.
func (f *Facade) History(ctx context.Context, c cadence.Cadence, limit int) ([]time.Time, error) {
	if !c.Valid() {
		return nil, &cadence.ParseError{Token: string(c)}
	}
	return f.store.SnapshotTimes(ctx, c, limit)
}

func (f *Facade) rowsAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.ChartRow, error) {
	entries, err := f.store.EntriesAt(ctx, c, t)
	if err != nil {
		return nil, fmt.Errorf("entries at: %w", err)
	}

	rows := make([]model.ChartRow, len(entries))
	for i, e := range entries {
		meta, found, err := f.catalog.Lookup(ctx, e.ItemID)
		switch {
		case err != nil:
			f.logger.Warn(ctx, "catalog lookup failed", logger.String("item_id", e.ItemID), logger.Error(err))
		case !found:
			f.logger.Warn(ctx, "item missing from catalog", logger.String("item_id", e.ItemID))
		}
		if !found || err != nil {
			meta = model.ItemMeta{ID: e.ItemID}
		}
		rows[i] = model.ChartRow{Entry: e, Meta: meta}
	}
	return rows, nil
}
