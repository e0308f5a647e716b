// Package bunx opens the audit database with the bun dialect matching the DSN.
package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Backend is the database family behind a DSN.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// BackendOf classifies a DSN. Anything that is not a Postgres URL is handed
// to SQLite as a file path or file: URI.
func BackendOf(dsn string) Backend {
	for _, scheme := range []string{"postgres://", "postgresql://", "unix://"} {
		if strings.HasPrefix(dsn, scheme) {
			return BackendPostgres
		}
	}
	return BackendSQLite
}

// Open connects to dsn and pings it within ctx.
func Open(ctx context.Context, dsn string) (*bun.DB, error) {
	var (
		db    *bun.DB
		setup []string
	)

	switch BackendOf(dsn) {
	case BackendPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(
			pgdriver.WithDSN(dsn),
			pgdriver.WithApplicationName("rolewarden"),
		))
		// One audit row per corrective action; a small pool is plenty.
		sqldb.SetMaxOpenConns(4)
		sqldb.SetConnMaxIdleTime(5 * time.Minute)
		db = bun.NewDB(sqldb, pgdialect.New())

	default:
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// A single connection keeps shared in-memory databases alive and
		// serializes writers.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
		setup = sqlitePragmas(dsn)
	}

	for _, stmt := range setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", BackendOf(dsn), err)
	}
	return db, nil
}

func sqlitePragmas(dsn string) []string {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return pragmas
	}
	return append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
}
