package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/chartsnap/internal/adapters/repository"
)

var _ repository.CountStore = (*Store)(nil)

// LoadPlayCounts reads the newest row per item; unmerged parts may still hold
// older versions.
func (s *Store) LoadPlayCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT item_id, argMax(plays, updated_at)
		FROM play_counts
		GROUP BY item_id`)
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

// SavePlayCounts sends every count as one insert block.
func (s *Store) SavePlayCounts(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO play_counts (item_id, plays, updated_at)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer batch.Abort() //nolint:errcheck // no-op once sent

	// nextSeq is strictly increasing nanoseconds, so a later flush always wins.
	at := time.Unix(0, int64(s.nextSeq())).UTC()
	for id, plays := range counts {
		if err := batch.Append(id, plays, at); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
