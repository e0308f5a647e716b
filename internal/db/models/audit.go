package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuditRecord is the persisted last corrective action for one member.
// member_id is the primary key, so an upsert replaces the previous row.
type AuditRecord struct {
	bun.BaseModel `bun:"table:audit_records,alias:ar"`

	MemberID     string    `bun:"member_id,pk"`
	ActionID     string    `bun:"action_id,notnull"`
	Action       string    `bun:"action,notnull"`
	Reason       string    `bun:"reason"`
	RemovedRoles []string  `bun:"removed_roles,type:jsonb,notnull"` // role snowflakes, JSON encoded
	NewRole      *string   `bun:"new_role"`
	OccurredAt   time.Time `bun:"occurred_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
