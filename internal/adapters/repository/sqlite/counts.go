package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/chartsnap/internal/adapters/repository"
)

var _ repository.CountStore = (*Store)(nil)

func (s *Store) LoadPlayCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, plays FROM play_counts`)
	if err != nil {
		return nil, fmt.Errorf("query play counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id    string
			plays int64
		)
		if err := rows.Scan(&id, &plays); err != nil {
			return nil, fmt.Errorf("scan play count: %w", err)
		}
		out[id] = plays
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate play counts: %w", err)
	}
	return out, nil
}

// SavePlayCounts upserts every count in one transaction.
func (s *Store) SavePlayCounts(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO play_counts (item_id, plays, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET plays = excluded.plays, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare play count upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMicro()
	for id, plays := range counts {
		if _, err := stmt.ExecContext(ctx, id, plays, now); err != nil {
			return fmt.Errorf("upsert play count %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
