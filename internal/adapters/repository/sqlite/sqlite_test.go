package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/adapters/repository/sqlite"
	"github.com/okian/chartsnap/internal/adapters/repository/storetest"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/pkg/logger"
)

func open(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), path, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return open(t, filepath.Join(t.TempDir(), "charts.db"))
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "charts.db")

	first, err := sqlite.Open(ctx, path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, storetest.Batch(cadence.Weekly, storetest.Base, "w1",
		storetest.Item{ID: "a", Value: 3}, storetest.Item{ID: "b", Value: 1, Prev: storetest.Ptr(1)})))
	require.NoError(t, first.Close())

	second := open(t, path)
	latest, ok, err := second.LatestSnapshotTime(ctx, cadence.Weekly)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, latest.Equal(storetest.Base))

	es, err := second.EntriesAt(ctx, cadence.Weekly, latest)
	require.NoError(t, err)
	require.Len(t, es, 2)
	require.Equal(t, 1, *es[1].PrevRank)
}

func TestPlayCountsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "charts.db")

	first, err := sqlite.Open(ctx, path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, first.SavePlayCounts(ctx, map[string]int64{"a": 41, "b": 2}))
	require.NoError(t, first.Close())

	second := open(t, path)
	counts, err := second.LoadPlayCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"a": 41, "b": 2}, counts)
}
