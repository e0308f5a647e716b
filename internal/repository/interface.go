package repository

import (
	"context"
	"errors"

	"github.com/terraconstructs/rolewarden/internal/db/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// AuditRepository exposes persistence operations for audit records.
type AuditRepository interface {
	// Upsert inserts the record or replaces the existing row for the same
	// member in a single transaction.
	Upsert(ctx context.Context, rec *models.AuditRecord) error
	GetByMemberID(ctx context.Context, memberID string) (*models.AuditRecord, error)
	List(ctx context.Context) ([]models.AuditRecord, error)
	Count(ctx context.Context) (int, error)
}
