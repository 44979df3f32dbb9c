package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/okian/chartsnap/internal/adapters/repository"
)

var _ repository.CountStore = (*Store)(nil)

func (s *Store) LoadPlayCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT item_id, plays FROM play_counts`)
	if err != nil {
		return nil, fmt.Errorf("query play counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	var (
		id    string
		plays int64
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &plays}, func() error {
		out[id] = plays
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect play counts: %w", err)
	}
	return out, nil
}

// SavePlayCounts upserts every count with a single statement.
func (s *Store) SavePlayCounts(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(counts))
	plays := make([]int64, 0, len(counts))
	for id, n := range counts {
		ids = append(ids, id)
		plays = append(plays, n)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO play_counts (item_id, plays, updated_at)
		SELECT id, n, now() FROM unnest($1::text[], $2::bigint[]) AS t(id, n)
		ON CONFLICT (item_id) DO UPDATE SET plays = EXCLUDED.plays, updated_at = EXCLUDED.updated_at`,
		ids, plays)
	if err != nil {
		return fmt.Errorf("upsert play counts: %w", err)
	}
	return nil
}
