// Package postgres implements the snapshot store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/internal/domain/model"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Store is a repository.Store backed by PostgreSQL.
type Store struct {
	pool *Pool
}

// Compile-time interface check.
var _ repository.Store = (*Store)(nil)

// NewStore creates a Store on an already migrated database.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts the run and copies its entries inside one transaction.
func (s *Store) Append(ctx context.Context, b model.Batch) error {
	if err := repository.ValidateBatch(b); err != nil {
		return err
	}
	ts := repository.UTCMicro(b.SnapshotTime)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO snapshot_runs (run_id, cadence, snapshot_time, entry_count)
		VALUES ($1, $2, $3, $4)
		RETURNING seq`,
		b.RunID, string(b.Cadence), ts, len(b.Entries),
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("insert snapshot run: %w", err)
	}

	rows := make([][]any, len(b.Entries))
	for i, e := range b.Entries {
		var prev any
		if e.PrevRank != nil {
			prev = int32(*e.PrevRank)
		}
		rows[i] = []any{seq, string(b.Cadence), ts, e.ItemID, int32(e.Rank), prev, e.MetricValue}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"snapshot_entries"},
		[]string{"run_seq", "cadence", "snapshot_time", "item_id", "rank", "prev_rank", "metric_value"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy snapshot entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) LatestSnapshotTime(ctx context.Context, c cadence.Cadence) (time.Time, bool, error) {
	return s.maxTime(ctx, `SELECT MAX(snapshot_time) FROM snapshot_runs WHERE cadence = $1`, string(c))
}

func (s *Store) SnapshotTimeBefore(ctx context.Context, c cadence.Cadence, before time.Time) (time.Time, bool, error) {
	return s.maxTime(ctx, `SELECT MAX(snapshot_time) FROM snapshot_runs WHERE cadence = $1 AND snapshot_time < $2`,
		string(c), repository.UTCMicro(before))
}

func (s *Store) maxTime(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	var t *time.Time
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&t); err != nil {
		return time.Time{}, false, fmt.Errorf("query snapshot time: %w", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

// EntriesAt reads the most recently appended run at (c, t).
func (s *Store) EntriesAt(ctx context.Context, c cadence.Cadence, t time.Time) ([]model.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.snapshot_time, e.item_id, e.rank, e.prev_rank, e.metric_value, r.run_id
		FROM snapshot_entries e
		JOIN snapshot_runs r ON r.seq = e.run_seq
		WHERE e.run_seq = (
			SELECT MAX(seq) FROM snapshot_runs WHERE cadence = $1 AND snapshot_time = $2
		)
		ORDER BY e.rank ASC`,
		string(c), repository.UTCMicro(t))
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
	row := s.pool.QueryRow(ctx, `
		SELECT e.snapshot_time, e.item_id, e.rank, e.prev_rank, e.metric_value, r.run_id
		FROM snapshot_entries e
		JOIN snapshot_runs r ON r.seq = e.run_seq
		WHERE e.cadence = $1 AND e.item_id = $2 AND e.snapshot_time < $3
		  AND e.run_seq = (
			SELECT MAX(r2.seq) FROM snapshot_runs r2
			WHERE r2.cadence = e.cadence AND r2.snapshot_time = e.snapshot_time
		  )
		ORDER BY e.snapshot_time DESC
		LIMIT 1`,
		string(c), itemID, repository.UTCMicro(before))

	e, err := scanEntry(row, c)
	if isNotFoundError(err) {
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
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT snapshot_time FROM snapshot_runs
		WHERE cadence = $1
		ORDER BY snapshot_time DESC
		LIMIT $2`, string(c), limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot times: %w", err)
	}
	times, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (time.Time, error) {
		var t time.Time
		err := row.Scan(&t)
		return t.UTC(), err
	})
	if err != nil {
		return nil, fmt.Errorf("collect snapshot times: %w", err)
	}
	if times == nil {
		times = []time.Time{}
	}
	return times, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanEntry(row pgx.Row, c cadence.Cadence) (model.Entry, error) {
	var (
		e    model.Entry
		ts   time.Time
		rank int32
		prev *int32
	)
	if err := row.Scan(&ts, &e.ItemID, &rank, &prev, &e.MetricValue, &e.RunID); err != nil {
		if isNotFoundError(err) {
			return model.Entry{}, err
		}
		return model.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Cadence = c
	e.SnapshotTime = ts.UTC()
	e.Rank = int(rank)
	if prev != nil {
		p := int(*prev)
		e.PrevRank = &p
	}
	return e, nil
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
