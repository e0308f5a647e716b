package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/terraconstructs/rolewarden/internal/audit"
	"github.com/terraconstructs/rolewarden/internal/config"
	"github.com/terraconstructs/rolewarden/internal/db/bunx"
	"github.com/terraconstructs/rolewarden/internal/migrations"
	"github.com/terraconstructs/rolewarden/internal/repository"
)

// openAuditStore builds the configured audit backend. The returned closer
// releases the database connection or stops the file writer.
func openAuditStore(ctx context.Context, c *config.Config) (audit.Store, func(), error) {
	switch c.Audit.Backend {
	case config.AuditBackendFile:
		store := audit.NewFileStore(c.Audit.FilePath)
		log.Printf("Using file audit store at %s", c.Audit.FilePath)
		return store, func() { _ = store.Close() }, nil

	case config.AuditBackendDB:
		db, err := openMigratedDB(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := audit.NewDBStore(repository.NewBunAuditRepository(db))
		return store, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
}

// openMigratedDB connects and refuses to continue while migrations are
// pending, so the store never runs against a stale schema.
func openMigratedDB(ctx context.Context, dsn string) (*bun.DB, error) {
	db, err := bunx.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Printf("Connected to database")

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to get migration status (run 'rolewarden db init'?): %w", err)
	}
	if pending := ms.Unapplied(); len(pending) > 0 {
		_ = db.Close()
		return nil, fmt.Errorf("%d pending migration(s), run 'rolewarden db migrate' first", len(pending))
	}
	return db, nil
}
