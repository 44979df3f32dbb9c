package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/chartsnap/internal/adapters/repository"
	"github.com/okian/chartsnap/internal/adapters/repository/clickhouse"
	"github.com/okian/chartsnap/internal/adapters/repository/migrations"
	"github.com/okian/chartsnap/internal/adapters/repository/postgres"
	"github.com/okian/chartsnap/internal/adapters/repository/sqlite"
	"github.com/okian/chartsnap/internal/config"
	"github.com/okian/chartsnap/pkg/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	maxConnectInterval    = 5 * time.Second
)

// OpenStore opens and migrates the snapshot store selected by driver and
// wraps it with metrics. Network backends are retried with exponential
// backoff until timeout elapses.
func OpenStore(ctx context.Context, driver, dsn string, timeout time.Duration, log logger.Logger) (repository.Store, error) {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	var (
		store repository.Store
		err   error
	)
	switch driver {
	case config.DriverMemory, "":
		driver = config.DriverMemory
		store = repository.NewMemoryStore()
	case config.DriverSQLite:
		store, err = sqlite.Open(ctx, dsn, log)
	case config.DriverPostgres:
		store, err = openPostgres(ctx, dsn, timeout, log)
	case config.DriverClickHouse:
		store, err = openClickHouse(ctx, dsn, timeout, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	log.Info(ctx, "snapshot store ready", logger.String("driver", driver))
	return repository.NewInstrumented(store,
		repository.WithLogger(log),
		repository.WithBackendName(driver),
	), nil
}

func openPostgres(ctx context.Context, dsn string, timeout time.Duration, log logger.Logger) (repository.Store, error) {
	pool, err := connect(ctx, timeout, log, "postgres", func(ctx context.Context) (*postgres.Pool, error) {
		return postgres.NewPool(ctx, dsn)
	})
	if err != nil {
		return nil, err
	}
	if err := migrations.Postgres(ctx, dsn, log); err != nil {
		pool.Close()
		return nil, err
	}
	return postgres.NewStore(pool), nil
}

func openClickHouse(ctx context.Context, dsn string, timeout time.Duration, log logger.Logger) (repository.Store, error) {
	conn, err := connect(ctx, timeout, log, "clickhouse", func(ctx context.Context) (*clickhouse.Conn, error) {
		return clickhouse.NewConn(ctx, dsn)
	})
	if err != nil {
		return nil, err
	}
	if err := migrations.ClickHouse(ctx, conn, log); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return clickhouse.NewStore(conn), nil
}

// connect retries dial until it succeeds or the timeout elapses.
func connect[T any](ctx context.Context, timeout time.Duration, log logger.Logger, name string, dial func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxConnectInterval

	for attempt := 1; ; attempt++ {
		v, err := dial(ctx)
		if err == nil {
			return v, nil
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxConnectInterval
		}
		log.Warn(ctx, "store connection failed, retrying",
			logger.String("backend", name),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", sleep),
			logger.Error(err))

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrStoreUnavailable, name, attempt, err)
		case <-time.After(sleep):
		}
	}
}
