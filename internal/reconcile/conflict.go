package reconcile

import (
	"fmt"

	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/policy"
)

// ReasonGroupConflict is the removal reason sent for exclusive group conflicts.
const ReasonGroupConflict = "Only one role from group allowed"

// TieBreak decides which role a group keeps when the event does not single
// out exactly one newly added role.
type TieBreak string

const (
	// TieBreakLowestID keeps the numerically lowest role id.
	TieBreakLowestID TieBreak = "lowest-id"
	// TieBreakHighestID keeps the numerically highest role id.
	TieBreakHighestID TieBreak = "highest-id"
	// TieBreakGroupOrder keeps the role listed first in the group config.
	TieBreakGroupOrder TieBreak = "group-order"
	// TieBreakSkip leaves the group untouched.
	TieBreakSkip TieBreak = "skip"
)

// ParseTieBreak validates a configured tie-break name. Empty means lowest-id.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "":
		return TieBreakLowestID, nil
	case TieBreakLowestID, TieBreakHighestID, TieBreakGroupOrder, TieBreakSkip:
		return TieBreak(s), nil
	default:
		return "", fmt.Errorf("unknown tie-break %q (want lowest-id, highest-id, group-order or skip)", s)
	}
}

// GroupConflict is the decision for one exclusive group.
type GroupConflict struct {
	Group  string
	Keep   platform.RoleID
	Remove []platform.RoleID

	// Candidates are the roles the tie-break chose from; set only when
	// TieBreak is true.
	Candidates []platform.RoleID
	TieBreak   bool
}

// SkippedGroup reports a conflict left unresolved by TieBreakSkip.
type SkippedGroup struct {
	Group string
	Roles []platform.RoleID
}

// ConflictResolver enforces at most one role per exclusive group.
type ConflictResolver struct {
	policy   *policy.Policy
	tieBreak TieBreak
}

// NewConflictResolver creates a resolver over p.
func NewConflictResolver(p *policy.Policy, tieBreak TieBreak) *ConflictResolver {
	if tieBreak == "" {
		tieBreak = TieBreakLowestID
	}
	return &ConflictResolver{policy: p, tieBreak: tieBreak}
}

// Resolve checks every group against the candidate set. The newest role of a
// group is one present in after but not in before; when exactly one exists it
// is kept. Otherwise the tie-break chooses among the newest roles, or among
// all intersecting roles when none is new.
func (r *ConflictResolver) Resolve(before, after, candidate []platform.RoleID) ([]GroupConflict, []SkippedGroup) {
	held := newRoleSet(candidate)
	added := newRoleSet(difference(after, before))

	var conflicts []GroupConflict
	var skipped []SkippedGroup
	for _, group := range r.policy.Groups() {
		var inter, newest []platform.RoleID
		for _, role := range group.Roles {
			if !held.has(role) {
				continue
			}
			inter = append(inter, role)
			if added.has(role) {
				newest = append(newest, role)
			}
		}
		if len(inter) <= 1 {
			continue
		}

		decision := GroupConflict{Group: group.Name}
		if len(newest) == 1 {
			decision.Keep = newest[0]
		} else {
			pool := newest
			if len(pool) == 0 {
				pool = inter
			}
			if r.tieBreak == TieBreakSkip {
				skipped = append(skipped, SkippedGroup{Group: group.Name, Roles: inter})
				continue
			}
			decision.Keep = r.pick(pool)
			decision.Candidates = pool
			decision.TieBreak = true
		}

		for _, role := range inter {
			if role != decision.Keep {
				decision.Remove = append(decision.Remove, role)
			}
		}
		conflicts = append(conflicts, decision)
	}
	return conflicts, skipped
}

// pick applies the tie-break to a non-empty pool given in group order.
func (r *ConflictResolver) pick(pool []platform.RoleID) platform.RoleID {
	switch r.tieBreak {
	case TieBreakGroupOrder:
		return pool[0]
	case TieBreakHighestID:
		best := pool[0]
		for _, id := range pool[1:] {
			if id > best {
				best = id
			}
		}
		return best
	default:
		best := pool[0]
		for _, id := range pool[1:] {
			if id < best {
				best = id
			}
		}
		return best
	}
}
