package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/terraconstructs/rolewarden/internal/db/bunx"
	"github.com/terraconstructs/rolewarden/internal/db/models"
	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/repository"
)

// DBStore is a Store backed by the audit_records table.
type DBStore struct {
	repo repository.AuditRepository
}

// NewDBStore wraps an audit repository.
func NewDBStore(repo repository.AuditRepository) *DBStore {
	return &DBStore{repo: repo}
}

// Record upserts the member's record.
func (s *DBStore) Record(ctx context.Context, member platform.MemberID, rec Record) error {
	row := toModel(member, rec)
	if err := s.repo.Upsert(ctx, row); err != nil {
		return err
	}
	return nil
}

// Load returns every stored record keyed by member.
func (s *DBStore) Load(ctx context.Context) (map[platform.MemberID]Record, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[platform.MemberID]Record, len(rows))
	for i := range rows {
		member, rec, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out[member] = rec
	}
	return out, nil
}

// Get returns the member's record or ErrNotFound.
func (s *DBStore) Get(ctx context.Context, member platform.MemberID) (Record, error) {
	row, err := s.repo.GetByMemberID(ctx, member.String())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	_, rec, err := fromModel(row)
	return rec, err
}

// Count returns the number of stored rows, one per member.
func (s *DBStore) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func toModel(member platform.MemberID, rec Record) *models.AuditRecord {
	removed := make([]string, 0, len(rec.RemovedRoles))
	for _, r := range rec.RemovedRoles {
		removed = append(removed, r.String())
	}
	row := &models.AuditRecord{
		MemberID:     member.String(),
		ActionID:     rec.ActionID,
		Action:       string(rec.Action),
		Reason:       rec.Reason,
		RemovedRoles: removed,
		OccurredAt:   rec.Timestamp.UTC(),
	}
	if row.ActionID == "" {
		row.ActionID = bunx.NewUUIDv7()
	}
	if rec.NewRole != 0 {
		s := rec.NewRole.String()
		row.NewRole = &s
	}
	return row
}

func fromModel(row *models.AuditRecord) (platform.MemberID, Record, error) {
	member, err := platform.ParseMemberID(row.MemberID)
	if err != nil {
		return 0, Record{}, fmt.Errorf("audit row: %w", err)
	}
	removed, err := platform.ParseRoleIDs(row.RemovedRoles)
	if err != nil {
		return 0, Record{}, fmt.Errorf("audit row for %s: %w", row.MemberID, err)
	}
	rec := Record{
		Timestamp:    row.OccurredAt.UTC(),
		RemovedRoles: removed,
		Action:       Kind(row.Action),
		Reason:       row.Reason,
		ActionID:     row.ActionID,
	}
	if row.NewRole != nil {
		newRole, err := platform.ParseRoleID(*row.NewRole)
		if err != nil {
			return 0, Record{}, fmt.Errorf("audit row for %s: %w", row.MemberID, err)
		}
		rec.NewRole = newRole
	}
	return member, rec, nil
}
