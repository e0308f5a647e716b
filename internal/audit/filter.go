package audit

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-bexpr"
	"github.com/terraconstructs/rolewarden/internal/platform"
)

// Filter selects audit records with a go-bexpr expression evaluated against
// the fields MemberID, Action, Reason, NewRole, RemovedRoles and
// RemovedCount, e.g. `Action == "group-conflict" and "10" in RemovedRoles`.
type Filter struct {
	evaluator *bexpr.Evaluator
}

// NewFilter compiles expr. An empty expression matches every record.
func NewFilter(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return &Filter{}, nil
	}
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return &Filter{evaluator: evaluator}, nil
}

// Match reports whether the record satisfies the filter. Evaluation errors
// count as a non-match.
func (f *Filter) Match(member platform.MemberID, rec Record) bool {
	if f == nil || f.evaluator == nil {
		return true
	}
	removed := make([]string, 0, len(rec.RemovedRoles))
	for _, r := range rec.RemovedRoles {
		removed = append(removed, r.String())
	}
	newRole := ""
	if rec.NewRole != 0 {
		newRole = rec.NewRole.String()
	}
	datum := map[string]any{
		"MemberID":     member.String(),
		"Action":       string(rec.Action),
		"Reason":       rec.Reason,
		"NewRole":      newRole,
		"RemovedRoles": removed,
		"RemovedCount": len(removed),
	}
	ok, err := f.evaluator.Evaluate(datum)
	if err != nil {
		return false
	}
	return ok
}

// Apply returns the matching subset of records.
func (f *Filter) Apply(records map[platform.MemberID]Record) map[platform.MemberID]Record {
	out := make(map[platform.MemberID]Record, len(records))
	for member, rec := range records {
		if f.Match(member, rec) {
			out[member] = rec
		}
	}
	return out
}
