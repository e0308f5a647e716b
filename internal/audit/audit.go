// Package audit persists the most recent corrective action taken for each
// member. Records are keyed by member id and each write overwrites the
// previous record for that member; history is not retained.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/rolewarden/internal/platform"
)

// ErrNotFound is returned by Get when the member has no record.
var ErrNotFound = errors.New("audit record not found")

// Kind is the rule that triggered a corrective action.
type Kind string

const (
	KindDependencyViolation Kind = "dependency-violation"
	KindGroupConflict       Kind = "group-conflict"
)

// Record describes the last corrective action applied to a member.
// The JSON form matches the role_data.json file written by earlier
// releases; Action, Reason and ActionID are omitted when unknown.
type Record struct {
	Timestamp    time.Time         `json:"timestamp"`
	RemovedRoles []platform.RoleID `json:"removed_roles"`
	NewRole      platform.RoleID   `json:"new_role,omitempty"`
	Action       Kind              `json:"action,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	ActionID     string            `json:"action_id,omitempty"`
}

// Store persists audit records. Implementations must serialize concurrent
// writes so that a write for one member never drops another member's record.
type Store interface {
	Record(ctx context.Context, member platform.MemberID, rec Record) error
	Load(ctx context.Context) (map[platform.MemberID]Record, error)
	Get(ctx context.Context, member platform.MemberID) (Record, error)
	// Count returns the number of members with a record.
	Count(ctx context.Context) (int, error)
}
