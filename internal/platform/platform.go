// Package platform defines the collaborators rolewarden consumes from the
// community platform: the role mutation client, the notifier and the role
// directory, plus the identifiers they share.
package platform

import (
	"context"
	"fmt"
	"strconv"
)

// RoleID is a platform role snowflake.
type RoleID uint64

// MemberID is a platform member snowflake.
type MemberID uint64

// ChannelID is a platform text channel snowflake.
type ChannelID uint64

func (id RoleID) String() string    { return strconv.FormatUint(uint64(id), 10) }
func (id MemberID) String() string  { return strconv.FormatUint(uint64(id), 10) }
func (id ChannelID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Mention renders the role mention used in log channel entries.
func (id RoleID) Mention() string { return "<@&" + id.String() + ">" }

// Mention renders the member mention used in log channel entries.
func (id MemberID) Mention() string { return "<@" + id.String() + ">" }

// ParseRoleID parses a decimal snowflake.
func ParseRoleID(s string) (RoleID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid role id %q: %w", s, err)
	}
	return RoleID(v), nil
}

// ParseMemberID parses a decimal snowflake.
func ParseMemberID(s string) (MemberID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid member id %q: %w", s, err)
	}
	return MemberID(v), nil
}

// ParseChannelID parses a decimal snowflake. The empty string yields zero.
func ParseChannelID(s string) (ChannelID, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", s, err)
	}
	return ChannelID(v), nil
}

// ParseRoleIDs parses a list of decimal snowflakes, preserving order.
func ParseRoleIDs(values []string) ([]RoleID, error) {
	ids := make([]RoleID, 0, len(values))
	for _, v := range values {
		id, err := ParseRoleID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RoleMutator removes roles from members.
//
// RemoveRoles must be idempotent: removing a role the member no longer holds
// is success. When only part of the batch is applied, the confirmed subset is
// returned together with the error describing the failure.
type RoleMutator interface {
	RemoveRoles(ctx context.Context, member MemberID, roles []RoleID, reason string) ([]RoleID, error)
}

// DirectNotice is the payload of the direct message sent to a member who lost
// roles.
type DirectNotice struct {
	Title        string
	Reason       string
	RemovedRoles []string
	RetainedRole string // empty when nothing was retained
}

// LogEntry is the payload posted to the moderator log channel.
type LogEntry struct {
	Title               string
	ActorMention        string
	RemovedRoleMentions []string
	RetainedRoleMention string
	RuleViolated        string
}

// Notifier delivers best-effort notifications. Failures are reported with
// ErrUnreachable (direct messages) or ErrDeliveryFailed (log channel).
type Notifier interface {
	DirectMessage(ctx context.Context, member MemberID, notice DirectNotice) error
	PostLog(ctx context.Context, channel ChannelID, entry LogEntry) error
}

// RoleDirectory resolves role display names.
type RoleDirectory interface {
	RoleName(ctx context.Context, role RoleID) (string, error)
}
