// Package migrations applies the snapshot store schema for every SQL backend.
// Postgres and SQLite go through golang-migrate with embedded sources;
// ClickHouse statements are executed one by one since its driver does not
// accept multi-statement scripts.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/okian/chartsnap/pkg/logger"
)

//go:embed postgres/*.sql sqlite/*.sql clickhouse/*.sql
var files embed.FS

// Postgres applies pending migrations to the database reachable via dsn.
func Postgres(ctx context.Context, dsn string, log logger.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn(ctx, "migrations connection close", logger.Error(cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	return up(ctx, "postgres", "pgx5", driver, true, log)
}

// SQLite applies pending migrations to db. The handle stays open: the
// sqlite3 migrate driver closes the *sql.DB it wraps, so Close is not called.
func SQLite(ctx context.Context, db *sql.DB, log logger.Logger) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("initialise sqlite3 driver: %w", err)
	}
	return up(ctx, "sqlite", "sqlite3", driver, false, log)
}

// up runs the embedded dir against driver. closeAfter closes the migrate
// instance, which also closes the database handle behind driver.
func up(ctx context.Context, dir, name string, driver database.Driver, closeAfter bool, log logger.Logger) error {
	src, err := iofs.New(files, dir)
	if err != nil {
		return fmt.Errorf("open embedded %s migrations: %w", dir, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	if closeAfter {
		defer func() {
			if serr, derr := m.Close(); serr != nil || derr != nil {
				log.Warn(ctx, "migrations close", logger.Any("source_error", serr), logger.Any("db_error", derr))
			}
		}()
	}

	log.Info(ctx, "running database migrations", logger.String("backend", dir))
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info(ctx, "database migrations up-to-date", logger.String("backend", dir))
			return nil
		}
		return fmt.Errorf("apply %s migrations: %w", dir, err)
	}
	log.Info(ctx, "database migrations applied", logger.String("backend", dir))
	return nil
}

// Execer runs a single statement. clickhouse driver.Conn satisfies it.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// ClickHouse applies every embedded ClickHouse statement. Statements are
// idempotent (IF NOT EXISTS), so re-running is safe.
func ClickHouse(ctx context.Context, conn Execer, log logger.Logger) error {
	entries, err := fs.ReadDir(files, "clickhouse")
	if err != nil {
		return fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := fs.ReadFile(files, "clickhouse/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range SplitStatements(string(data)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
		log.Info(ctx, "clickhouse migration applied", logger.String("file", name))
	}
	return nil
}

// SplitStatements splits a script on semicolons, dropping blank statements
// and full-line comments. Literals must not contain semicolons.
func SplitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
