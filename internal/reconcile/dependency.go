package reconcile

import (
	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/policy"
)

// ReasonMissingPrerequisite is the removal reason for dependency violations.
const ReasonMissingPrerequisite = "missing prerequisite"

// DependencyViolation is a dependent role held without any prerequisite.
type DependencyViolation struct {
	Role        platform.RoleID
	Reason      string
	SatisfiedBy []platform.RoleID
}

// DependencyValidator checks dependency rules for one event.
type DependencyValidator struct {
	policy *policy.Policy

	// revalidate also inspects held dependent roles whose prerequisite was
	// removed in the event.
	revalidate bool
}

// NewDependencyValidator creates a validator over p.
func NewDependencyValidator(p *policy.Policy, revalidate bool) *DependencyValidator {
	return &DependencyValidator{policy: p, revalidate: revalidate}
}

// Validate inspects the added roles in order and returns the first one that
// has a rule not satisfied by after, or nil. Later violations in the same
// event are left for the next event that observes them.
func (v *DependencyValidator) Validate(added, after []platform.RoleID) *DependencyViolation {
	held := newRoleSet(after)
	for _, role := range added {
		rule, ok := v.policy.Rule(role)
		if !ok || !held.has(role) {
			continue
		}
		if rule.SatisfiedBy(held) {
			continue
		}
		return &DependencyViolation{
			Role:        role,
			Reason:      ReasonMissingPrerequisite,
			SatisfiedBy: append([]platform.RoleID(nil), rule.Requires...),
		}
	}
	return nil
}

// ValidateChange runs Validate over the roles touched by a before → after
// change: the added roles, then (when revalidation is enabled) the held
// dependents of any prerequisite that was removed.
func (v *DependencyValidator) ValidateChange(before, after []platform.RoleID) *DependencyViolation {
	return v.Validate(v.inspected(before, after), after)
}

func (v *DependencyValidator) inspected(before, after []platform.RoleID) []platform.RoleID {
	added := difference(after, before)
	if !v.revalidate {
		return added
	}

	held := newRoleSet(after)
	queued := newRoleSet(added)
	out := added
	for _, lost := range difference(before, after) {
		for _, dependent := range v.policy.DependentsOf(lost) {
			if !held.has(dependent) || queued.has(dependent) {
				continue
			}
			queued[dependent] = struct{}{}
			out = append(out, dependent)
		}
	}
	return out
}
