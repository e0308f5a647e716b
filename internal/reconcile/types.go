// Package reconcile enforces the role policy on membership changes.
//
// A Coordinator evaluates one MembershipChangeEvent in two stages: the
// DependencyValidator strips a dependent role held without any prerequisite,
// then the ConflictResolver keeps at most one role per exclusive group. A
// follow-up dependency check covers prerequisites removed by the conflict
// stage. Each stage yields at most one corrective Action, which is applied
// through the platform.RoleMutator, announced through the platform.Notifier
// and recorded in the audit.Store. The Dispatcher serializes events per
// member.
package reconcile

import (
	"time"

	"github.com/terraconstructs/rolewarden/internal/audit"
	"github.com/terraconstructs/rolewarden/internal/platform"
)

// Event is a decoded membership change. Before and After are role sets; their
// order is the platform's role iteration order and decides which violation is
// handled first.
type Event struct {
	ID        string
	Member    platform.MemberID
	Before    []platform.RoleID
	After     []platform.RoleID
	Timestamp time.Time
}

// Action is a corrective action taken for one stage of an event.
type Action struct {
	ID     string
	Kind   audit.Kind
	Member platform.MemberID
	Reason string

	// Requested is what the stage asked the platform to remove; Removed is
	// the confirmed subset.
	Requested []platform.RoleID
	Removed   []platform.RoleID

	// Retained holds the winner of each conflicting group.
	Retained []platform.RoleID

	// SatisfiedBy lists the prerequisites that would have allowed the
	// removed dependent role.
	SatisfiedBy []platform.RoleID

	Groups   []string
	TieBreak bool
}

type roleSet map[platform.RoleID]struct{}

func newRoleSet(ids []platform.RoleID) roleSet {
	s := make(roleSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s roleSet) has(id platform.RoleID) bool {
	_, ok := s[id]
	return ok
}

func sameRoles(a, b []platform.RoleID) bool {
	sa, sb := newRoleSet(a), newRoleSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for id := range sa {
		if !sb.has(id) {
			return false
		}
	}
	return true
}

// difference returns the ids of a not in b, keeping a's order and dropping
// duplicates.
func difference(a, b []platform.RoleID) []platform.RoleID {
	exclude := newRoleSet(b)
	seen := make(roleSet, len(a))
	var out []platform.RoleID
	for _, id := range a {
		if exclude.has(id) || seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// intersect returns the ids of a also in b, keeping a's order.
func intersect(a, b []platform.RoleID) []platform.RoleID {
	include := newRoleSet(b)
	seen := make(roleSet, len(a))
	var out []platform.RoleID
	for _, id := range a {
		if !include.has(id) || seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
