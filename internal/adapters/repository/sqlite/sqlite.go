// Package sqlite implements the snapshot store on an embedded SQLite file.
// Snapshot times are stored as unix microseconds in UTC.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/adapters/repository/migrations"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/pkg/logger"
)

// Store is a repository.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
// The path can be ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	db, err := NewDatabase(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := migrations.SQLite(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// NewDatabase opens a connection to a SQLite database with foreign keys on.
// A single connection is kept so ":memory:" databases and writers are shared.
func NewDatabase(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return db, nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func micros(t time.Time) int64 { return repository.UTCMicro(t).UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

// Append writes the run row and its entries in one transaction.
func (s *Store) Append(ctx context.Context, b model.Batch) error {
	if err := repository.ValidateBatch(b); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ts := micros(b.SnapshotTime)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_runs (run_id, cadence, snapshot_time, entry_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.RunID, string(b.Cadence), ts, len(b.Entries), time.Now().UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("insert snapshot run: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("snapshot run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_entries (run_seq, cadence, snapshot_time, item_id, rank, prev_rank, metric_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range b.Entries {
		if _, err := stmt.ExecContext(ctx, seq, string(b.Cadence), ts, e.ItemID, e.Rank, nullInt(e.PrevRank), e.MetricValue); err != nil {
			return fmt.Errorf("insert snapshot entry %s: %w", e.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) LatestSnapshotTime(ctx context.Context, c cadence.Cadence) (time.Time, bool, error) {
	return s.maxTime(ctx, `SELECT MAX(snapshot_time) FROM snapshot_runs WHERE cadence = ?`, string(c))
}

func (s *Store) SnapshotTimeBefore(ctx context.Context, c cadence.Cadence, before time.Time) (time.Time, bool, error) {
	return s.maxTime(ctx, `SELECT MAX(snapshot_time) FROM snapshot_runs WHERE cadence = ? AND snapshot_time < ?`,
		string(c), micros(before))
}

func (s *Store) maxTime(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("query snapshot time: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	return fromMicros(v.Int64), true, nil
}

func (s *Store) EntriesAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.snapshot_time, e.item_id, e.rank, e.prev_rank, e.metric_value, r.run_id
		FROM snapshot_entries e
		JOIN snapshot_runs r ON r.seq = e.run_seq
		WHERE e.run_seq = (
			SELECT MAX(seq) FROM snapshot_runs WHERE cadence = ? AND snapshot_time = ?
		)
		ORDER BY e.rank ASC`,
		string(c), micros(t))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := []model.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows, c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func (s *Store) MostRecentPriorEntry(ctx context.Context, c cadence.Cadence, itemID string, before time.Time) (model.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.snapshot_time, e.item_id, e.rank, e.prev_rank, e.metric_value, r.run_id
		FROM snapshot_entries e
		JOIN snapshot_runs r ON r.seq = e.run_seq
		WHERE e.cadence = ? AND e.item_id = ? AND e.snapshot_time < ?
		  AND e.run_seq = (
			SELECT MAX(r2.seq) FROM snapshot_runs r2
			WHERE r2.cadence = e.cadence AND r2.snapshot_time = e.snapshot_time
		  )
		ORDER BY e.snapshot_time DESC
		LIMIT 1`,
		string(c), itemID, micros(before))

	e, err := scanEntry(row, c)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, false, nil
	}
	if err != nil {
		return model.Entry{}, false, err
	}
	return e, true, nil
}

func (s *Store) SnapshotTimes(ctx context.Context, c cadence.Cadence, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, repository.ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT snapshot_time FROM snapshot_runs
		WHERE cadence = ?
		ORDER BY snapshot_time DESC
		LIMIT ?`, string(c), limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot times: %w", err)
	}
	defer rows.Close()

	out := []time.Time{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan snapshot time: %w", err)
		}
		out = append(out, fromMicros(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot times: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, c cadence.Cadence) (model.Entry, error) {
	var (
		ts   int64
		prev sql.NullInt64
		e    model.Entry
	)
	if err := row.Scan(&ts, &e.ItemID, &e.Rank, &prev, &e.MetricValue, &e.RunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Entry{}, err
		}
		return model.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Cadence = c
	e.SnapshotTime = fromMicros(ts)
	if prev.Valid {
		p := int(prev.Int64)
		e.PrevRank = &p
	}
	return e, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
