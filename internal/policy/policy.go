// Package policy holds the static role policy: exclusive role groups and
// prerequisite dependency rules. A Policy is built once at startup and is
// immutable afterwards, so it is safe for concurrent use.
package policy

import (
	"errors"
	"fmt"

	"github.com/terraconstructs/rolewarden/internal/config"
	"github.com/terraconstructs/rolewarden/internal/platform"
)

// ErrInvalid is wrapped by every policy validation error.
var ErrInvalid = errors.New("invalid role policy")

// Role is a configured role.
type Role struct {
	ID   platform.RoleID
	Name string
}

// ExclusiveGroup is a set of roles of which a member may hold at most one.
// Roles keeps the configured order.
type ExclusiveGroup struct {
	Name  string
	Roles []platform.RoleID
}

// DependencyRule states that Role may be held only while at least one of
// Requires is held.
type DependencyRule struct {
	Role     platform.RoleID
	Requires []platform.RoleID
}

// SatisfiedBy reports whether held contains any prerequisite.
func (d DependencyRule) SatisfiedBy(held map[platform.RoleID]struct{}) bool {
	for _, r := range d.Requires {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

// Policy is the validated, immutable role policy.
type Policy struct {
	roles      map[platform.RoleID]Role
	groups     []ExclusiveGroup
	groupOf    map[platform.RoleID]int
	rules      map[platform.RoleID]DependencyRule
	ruleOrder  []platform.RoleID
	dependents map[platform.RoleID][]platform.RoleID
}

// New builds and validates a Policy from its configuration.
func New(cfg config.PolicyConfig) (*Policy, error) {
	p := &Policy{
		roles:      make(map[platform.RoleID]Role),
		groupOf:    make(map[platform.RoleID]int),
		rules:      make(map[platform.RoleID]DependencyRule),
		dependents: make(map[platform.RoleID][]platform.RoleID),
	}

	for _, rc := range cfg.Roles {
		id, err := platform.ParseRoleID(rc.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: roles: %v", ErrInvalid, err)
		}
		if _, dup := p.roles[id]; dup {
			return nil, fmt.Errorf("%w: role %s declared twice", ErrInvalid, id)
		}
		p.roles[id] = Role{ID: id, Name: rc.Name}
	}

	for i, gc := range cfg.ExclusiveGroups {
		name := gc.Name
		if name == "" {
			name = fmt.Sprintf("group-%d", i+1)
		}
		ids, err := platform.ParseRoleIDs(gc.Roles)
		if err != nil {
			return nil, fmt.Errorf("%w: exclusive group %q: %v", ErrInvalid, name, err)
		}
		if len(ids) < 2 {
			return nil, fmt.Errorf("%w: exclusive group %q needs at least two roles", ErrInvalid, name)
		}
		seen := make(map[platform.RoleID]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: exclusive group %q lists role %s twice", ErrInvalid, name, id)
			}
			seen[id] = struct{}{}
			if other, taken := p.groupOf[id]; taken {
				return nil, fmt.Errorf("%w: role %s belongs to groups %q and %q", ErrInvalid, id, p.groups[other].Name, name)
			}
			p.groupOf[id] = len(p.groups)
		}
		p.groups = append(p.groups, ExclusiveGroup{Name: name, Roles: ids})
	}

	for _, dc := range cfg.Dependencies {
		role, err := platform.ParseRoleID(dc.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: dependencies: %v", ErrInvalid, err)
		}
		if _, dup := p.rules[role]; dup {
			return nil, fmt.Errorf("%w: role %s has more than one dependency rule", ErrInvalid, role)
		}
		requires, err := platform.ParseRoleIDs(dc.Requires)
		if err != nil {
			return nil, fmt.Errorf("%w: dependency of %s: %v", ErrInvalid, role, err)
		}
		if len(requires) == 0 {
			return nil, fmt.Errorf("%w: dependency of %s lists no prerequisites", ErrInvalid, role)
		}
		for _, r := range requires {
			if r == role {
				return nil, fmt.Errorf("%w: role %s cannot require itself", ErrInvalid, role)
			}
			p.dependents[r] = append(p.dependents[r], role)
		}
		p.rules[role] = DependencyRule{Role: role, Requires: requires}
		p.ruleOrder = append(p.ruleOrder, role)
	}

	if _, err := p.DependencyOrder(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return p, nil
}

// Groups returns the exclusive groups in configured order.
func (p *Policy) Groups() []ExclusiveGroup {
	return p.groups
}

// GroupOf returns the exclusive group containing role, if any.
func (p *Policy) GroupOf(role platform.RoleID) (ExclusiveGroup, bool) {
	i, ok := p.groupOf[role]
	if !ok {
		return ExclusiveGroup{}, false
	}
	return p.groups[i], true
}

// Rule returns the dependency rule where role is the dependent role.
func (p *Policy) Rule(role platform.RoleID) (DependencyRule, bool) {
	r, ok := p.rules[role]
	return r, ok
}

// Rules returns all dependency rules in configured order.
func (p *Policy) Rules() []DependencyRule {
	out := make([]DependencyRule, 0, len(p.ruleOrder))
	for _, id := range p.ruleOrder {
		out = append(out, p.rules[id])
	}
	return out
}

// Unsatisfiable returns the rules whose dependent role shares an exclusive
// group with every one of its prerequisites. Such a role can never be held:
// any prerequisite conflicts with it.
func (p *Policy) Unsatisfiable() []DependencyRule {
	var out []DependencyRule
	for _, rule := range p.Rules() {
		group, ok := p.GroupOf(rule.Role)
		if !ok {
			continue
		}
		shared := 0
		for _, r := range rule.Requires {
			if g, ok := p.GroupOf(r); ok && g.Name == group.Name {
				shared++
			}
		}
		if shared == len(rule.Requires) {
			out = append(out, rule)
		}
	}
	return out
}

// DependentsOf returns the roles that list prereq as a prerequisite.
func (p *Policy) DependentsOf(prereq platform.RoleID) []platform.RoleID {
	return p.dependents[prereq]
}

// RoleNames returns the configured display names keyed by role id.
func (p *Policy) RoleNames() map[platform.RoleID]string {
	out := make(map[platform.RoleID]string, len(p.roles))
	for id, r := range p.roles {
		if r.Name != "" {
			out[id] = r.Name
		}
	}
	return out
}

// Role returns the configured role, if declared.
func (p *Policy) Role(id platform.RoleID) (Role, bool) {
	r, ok := p.roles[id]
	return r, ok
}
