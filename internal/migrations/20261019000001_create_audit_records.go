package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/rolewarden/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261019000001, down_20261019000001)
}

// up_20261019000001 creates the audit_records table
func up_20261019000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating audit_records table...")

	_, err := db.NewCreateTable().
		Model((*models.AuditRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create audit_records table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_records_action ON audit_records(action)`)
	if err != nil {
		return fmt.Errorf("failed to create index on action: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_records_occurred_at ON audit_records(occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to create index on occurred_at: %w", err)
	}

	if canAddConstraints(db) {
		_, err = db.ExecContext(ctx, `
			ALTER TABLE audit_records
			ADD CONSTRAINT chk_audit_records_action
			CHECK (action IN ('dependency-violation', 'group-conflict'))
		`)
		if err != nil {
			return fmt.Errorf("failed to add action check constraint: %w", err)
		}
	}

	fmt.Println(" OK")
	return nil
}

// down_20261019000001 drops the audit_records table
func down_20261019000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping audit_records table...")

	_, err := db.NewDropTable().
		Model((*models.AuditRecord)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop audit_records table: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
