package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/rolewarden/internal/db/models"
	"github.com/uptrace/bun"
)

// BunAuditRepository implements AuditRepository using Bun ORM
type BunAuditRepository struct {
	db *bun.DB
}

// NewBunAuditRepository creates a new Bun-based audit repository
func NewBunAuditRepository(db *bun.DB) AuditRepository {
	return &BunAuditRepository{db: db}
}

// Upsert writes the member's record, replacing any previous one. The
// statement runs in its own transaction so concurrent writers for different
// members never interleave a read-modify-write.
func (r *BunAuditRepository) Upsert(ctx context.Context, rec *models.AuditRecord) error {
	if rec.MemberID == "" {
		return fmt.Errorf("upsert audit record: member id is required")
	}
	if rec.RemovedRoles == nil {
		rec.RemovedRoles = []string{}
	}
	rec.UpdatedAt = time.Now().UTC()

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(rec).
			On("CONFLICT (member_id) DO UPDATE").
			Set("action_id = EXCLUDED.action_id").
			Set("action = EXCLUDED.action").
			Set("reason = EXCLUDED.reason").
			Set("removed_roles = EXCLUDED.removed_roles").
			Set("new_role = EXCLUDED.new_role").
			Set("occurred_at = EXCLUDED.occurred_at").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert audit record: %w", err)
		}
		return nil
	})
}

// GetByMemberID retrieves the record for a member
func (r *BunAuditRepository) GetByMemberID(ctx context.Context, memberID string) (*models.AuditRecord, error) {
	rec := new(models.AuditRecord)
	err := r.db.NewSelect().
		Model(rec).
		Where("member_id = ?", memberID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit record for member %s: %w", memberID, ErrNotFound)
		}
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return rec, nil
}

// List retrieves all records, most recent first
func (r *BunAuditRepository) List(ctx context.Context) ([]models.AuditRecord, error) {
	var recs []models.AuditRecord
	err := r.db.NewSelect().
		Model(&recs).
		Order("occurred_at DESC", "member_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return recs, nil
}

// Count returns the number of members with a record
func (r *BunAuditRepository) Count(ctx context.Context) (int, error) {
	n, err := r.db.NewSelect().
		Model((*models.AuditRecord)(nil)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}
