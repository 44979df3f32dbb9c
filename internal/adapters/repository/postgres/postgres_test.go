package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/adapters/repository/migrations"
	"github.com/okian/chartsnap/internal/adapters/repository/storetest"
	"github.com/okian/chartsnap/pkg/logger"
)

// setupTestDB starts a PostgreSQL container, applies migrations and returns
// a pool plus a cleanup function.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("charts"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	require.NoError(t, migrations.Postgres(ctx, dsn, logger.Nop()), "failed to apply migrations")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

type noClose struct{ *Store }

func (noClose) Close() error { return nil }

func TestStoreConformance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	storetest.Run(t, func(t *testing.T) repository.Store {
		_, err := pool.Exec(context.Background(), `TRUNCATE snapshot_entries, snapshot_runs, play_counts RESTART IDENTITY`)
		require.NoError(t, err)
		// The pool is shared by every sub-test and closed by cleanup.
		return noClose{NewStore(pool)}
	})
}
