package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/terraconstructs/rolewarden/internal/audit"
	"github.com/terraconstructs/rolewarden/internal/db/bunx"
	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/policy"
	"github.com/terraconstructs/rolewarden/internal/telemetry"
)

// ErrAborted wraps the mutation failure that stopped an event. Actions
// already applied before the failure are still returned by Reconcile.
var ErrAborted = errors.New("reconciliation aborted")

// Dependencies are the collaborators a Coordinator is built from.
type Dependencies struct {
	Policy  *policy.Policy
	Mutator platform.RoleMutator
	Store   audit.Store

	// Notifier is optional; without it no messages are sent.
	Notifier platform.Notifier
	// Names resolves role display names for notifications. Optional.
	Names *platform.NameCache
	// LogChannel receives moderator log entries. Zero disables them.
	LogChannel platform.ChannelID
	// Metrics is optional.
	Metrics *telemetry.ReconcileMetrics
}

// Options tune a Coordinator.
type Options struct {
	TieBreak                     TieBreak
	RevalidateOnPrerequisiteLoss bool

	// CallTimeout bounds every remote call.
	CallTimeout time.Duration
	// MutationRetries is the number of extra attempts after a transport
	// failure. Zero means a single attempt.
	MutationRetries int
	// RetryInitialInterval is the first backoff delay between attempts.
	RetryInitialInterval time.Duration

	Debug bool
	Now   func() time.Time
}

// Coordinator runs the dependency and conflict stages for one event at a
// time. It holds no per-member state; callers serialize events per member
// (see Dispatcher).
type Coordinator struct {
	deps      Dependencies
	opts      Options
	validator *DependencyValidator
	resolver  *ConflictResolver
}

// NewCoordinator validates the dependencies and applies option defaults.
func NewCoordinator(deps Dependencies, opts Options) (*Coordinator, error) {
	if deps.Policy == nil {
		return nil, fmt.Errorf("coordinator: policy is required")
	}
	if deps.Mutator == nil {
		return nil, fmt.Errorf("coordinator: role mutator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("coordinator: audit store is required")
	}
	if deps.Names == nil {
		names, err := platform.NewNameCache(deps.Policy.RoleNames(), nil, 0)
		if err != nil {
			return nil, err
		}
		deps.Names = names
	}
	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakLowestID
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		deps:      deps,
		opts:      opts,
		validator: NewDependencyValidator(deps.Policy, opts.RevalidateOnPrerequisiteLoss),
		resolver:  NewConflictResolver(deps.Policy, opts.TieBreak),
	}, nil
}

// Reconcile evaluates one event and applies the resulting corrective
// actions. It returns the actions that removed at least one role. A non-nil
// error wraps ErrAborted when a mutation failed; the remaining stages were
// skipped.
//
// When revalidation is enabled and the conflict stage removes the last
// prerequisite of a held dependent role, a third action removes that
// dependent in the same call. With revalidation disabled the dependent stays
// until a later event observes it.
func (c *Coordinator) Reconcile(ctx context.Context, ev Event) ([]Action, error) {
	if sameRoles(ev.Before, ev.After) {
		return nil, nil
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerReconcile, "reconcile.Event",
		attribute.String(telemetry.AttrMemberID, ev.Member.String()),
		attribute.String(telemetry.AttrEventID, ev.ID),
	)
	defer span.End()

	actions, err := c.reconcile(ctx, ev)

	outcome := "noop"
	switch {
	case err != nil:
		outcome = "aborted"
		telemetry.RecordError(span, err)
	case len(actions) > 0:
		outcome = "corrected"
	}
	span.SetAttributes(attribute.String(telemetry.AttrOutcome, outcome))
	c.deps.Metrics.RecordEvent(ctx, outcome, float64(time.Since(start).Microseconds())/1000)

	return actions, err
}

func (c *Coordinator) reconcile(ctx context.Context, ev Event) ([]Action, error) {
	var actions []Action
	candidate := append([]platform.RoleID(nil), ev.After...)

	if violation := c.validator.ValidateChange(ev.Before, ev.After); violation != nil {
		act := dependencyAction(ev.Member, violation)
		applied, err := c.apply(ctx, &act)
		if applied {
			actions = append(actions, act)
			candidate = difference(candidate, act.Removed)
		}
		if err != nil {
			return actions, err
		}
	}

	conflicts, skipped := c.resolver.Resolve(ev.Before, ev.After, candidate)
	for _, s := range skipped {
		log.Printf("WARNING: Coordinator: member %s holds %v from exclusive group %q and no single role was added; tie-break is %q, leaving roles untouched",
			ev.Member, s.Roles, s.Group, TieBreakSkip)
	}
	if len(conflicts) == 0 {
		return actions, nil
	}

	act := Action{
		Kind:   audit.KindGroupConflict,
		Member: ev.Member,
		Reason: ReasonGroupConflict,
	}
	for _, gc := range conflicts {
		if gc.TieBreak {
			telemetry.AddEvent(trace.SpanFromContext(ctx), "policy.tie_break",
				attribute.String(telemetry.AttrGroup, gc.Group),
				attribute.String("policy.kept_role", gc.Keep.String()),
			)
			log.Printf("WARNING: Coordinator: member %s: exclusive group %q had no single newly added role among %v; tie-break %q kept %s (arbitrary choice)",
				ev.Member, gc.Group, gc.Candidates, c.opts.TieBreak, gc.Keep)
			act.TieBreak = true
		}
		act.Groups = append(act.Groups, gc.Group)
		act.Retained = append(act.Retained, gc.Keep)
		act.Requested = append(act.Requested, gc.Remove...)
	}

	applied, err := c.apply(ctx, &act)
	if !applied || err != nil {
		if applied {
			actions = append(actions, act)
		}
		return actions, err
	}
	actions = append(actions, act)

	// A prerequisite stripped by the conflict stage leaves its dependent
	// unsupported. With revalidation on, that dependent goes in this event
	// instead of waiting for the platform to echo the removal back.
	remaining := difference(candidate, act.Removed)
	if violation := c.validator.ValidateChange(candidate, remaining); violation != nil {
		dep := dependencyAction(ev.Member, violation)
		applied, err := c.apply(ctx, &dep)
		if applied {
			actions = append(actions, dep)
		}
		return actions, err
	}
	return actions, nil
}

func dependencyAction(member platform.MemberID, v *DependencyViolation) Action {
	return Action{
		Kind:        audit.KindDependencyViolation,
		Member:      member,
		Reason:      v.Reason,
		Requested:   []platform.RoleID{v.Role},
		SatisfiedBy: v.SatisfiedBy,
	}
}

// apply removes the requested roles, then notifies and audits the confirmed
// subset. It reports whether any role was removed.
func (c *Coordinator) apply(ctx context.Context, act *Action) (bool, error) {
	act.ID = bunx.NewUUIDv7()

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerReconcile, "reconcile.Apply",
		attribute.String(telemetry.AttrActionID, act.ID),
		attribute.String(telemetry.AttrActionKind, string(act.Kind)),
		attribute.Bool(telemetry.AttrTieBreak, act.TieBreak),
	)
	defer span.End()

	if c.opts.Debug {
		log.Printf("DEBUG: Coordinator: action %s (%s) for member %s: removing %v, retaining %v",
			act.ID, act.Kind, act.Member, act.Requested, act.Retained)
	}

	removed, err := c.removeRoles(ctx, act.Member, act.Requested, act.Reason)
	act.Removed = removed
	span.SetAttributes(attribute.Int(telemetry.AttrRemovedCount, len(removed)))

	if err != nil {
		telemetry.RecordError(span, err)
		c.deps.Metrics.RecordMutationFailure(ctx, mutationErrorKind(err))
		switch {
		case errors.Is(err, platform.ErrPermissionDenied):
			log.Printf("ERROR: Coordinator: cannot remove roles %v from member %s: missing permissions: %v",
				difference(act.Requested, removed), act.Member, err)
		default:
			log.Printf("ERROR: Coordinator: failed to remove roles %v from member %s: %v",
				difference(act.Requested, removed), act.Member, err)
		}
	}

	if len(removed) == 0 {
		if err != nil {
			return false, fmt.Errorf("%w: %s for member %s: %w", ErrAborted, act.Kind, act.Member, err)
		}
		return false, nil
	}

	c.deps.Metrics.RecordAction(ctx, string(act.Kind), len(removed))
	c.notify(ctx, act)
	c.record(ctx, act)

	if err != nil {
		return true, fmt.Errorf("%w: %s for member %s applied partially: %w", ErrAborted, act.Kind, act.Member, err)
	}
	return true, nil
}

// removeRoles calls the mutator, retrying transport failures for the roles
// not yet confirmed. Confirmed removals are returned even on error.
func (c *Coordinator) removeRoles(ctx context.Context, member platform.MemberID, roles []platform.RoleID, reason string) ([]platform.RoleID, error) {
	var confirmed []platform.RoleID
	pending := roles

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()

		removed, err := c.deps.Mutator.RemoveRoles(callCtx, member, pending, reason)
		if err == nil {
			confirmed = append(confirmed, pending...)
			pending = nil
			return nil
		}
		done := intersect(removed, pending)
		confirmed = append(confirmed, done...)
		pending = difference(pending, done)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, platform.ErrTransport) {
			err = fmt.Errorf("%w: %w", platform.ErrTransport, err)
		}
		return err
	}

	if c.opts.MutationRetries <= 0 {
		err := attempt()
		return confirmed, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitialInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt()
		if err != nil && !platform.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("WARNING: Coordinator: transient failure removing roles %v from member %s, retrying: %v", pending, member, err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MutationRetries+1)),
	)
	return confirmed, err
}

// notify sends the direct message and the log entry concurrently. Failures
// are logged and never undo the mutation.
func (c *Coordinator) notify(ctx context.Context, act *Action) {
	if c.deps.Notifier == nil {
		return
	}

	notice, entry := c.render(ctx, act)

	var g errgroup.Group
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
		if err := c.deps.Notifier.DirectMessage(callCtx, act.Member, notice); err != nil {
			log.Printf("WARNING: Coordinator: could not DM member %s about action %s: %v", act.Member, act.ID, err)
			c.deps.Metrics.RecordSideEffectError(ctx, "direct_message")
		}
		return nil
	})
	if c.deps.LogChannel != 0 {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
			defer cancel()
			if err := c.deps.Notifier.PostLog(callCtx, c.deps.LogChannel, entry); err != nil {
				log.Printf("WARNING: Coordinator: failed to log action %s to channel %s: %v", act.ID, c.deps.LogChannel, err)
				c.deps.Metrics.RecordSideEffectError(ctx, "log_channel")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) render(ctx context.Context, act *Action) (platform.DirectNotice, platform.LogEntry) {
	names := c.deps.Names
	removedNames := names.Names(ctx, act.Removed)
	removedMentions := make([]string, 0, len(act.Removed))
	for _, r := range act.Removed {
		removedMentions = append(removedMentions, r.Mention())
	}

	notice := platform.DirectNotice{RemovedRoles: removedNames}
	entry := platform.LogEntry{
		ActorMention:        act.Member.Mention(),
		RemovedRoleMentions: removedMentions,
	}

	switch act.Kind {
	case audit.KindDependencyViolation:
		required := strings.Join(names.Names(ctx, act.SatisfiedBy), ", ")
		notice.Title = "A role was removed"
		notice.Reason = fmt.Sprintf("%s requires one of: %s.", strings.Join(removedNames, ", "), required)
		entry.Title = "Role Dependency Changelog"
		entry.RuleViolated = fmt.Sprintf("%s (requires one of: %s)", ReasonMissingPrerequisite, required)
	default:
		label := groupLabel(act.Groups)
		notice.Title = fmt.Sprintf("Your %s Roles were re-assigned", label)
		notice.Reason = fmt.Sprintf("You can only have one %s Role.", label)
		notice.RetainedRole = strings.Join(names.Names(ctx, act.Retained), ", ")
		retained := make([]string, 0, len(act.Retained))
		for _, r := range act.Retained {
			retained = append(retained, r.Mention())
		}
		entry.Title = fmt.Sprintf("%s Role Changelog", label)
		entry.RetainedRoleMention = strings.Join(retained, ", ")
		entry.RuleViolated = fmt.Sprintf("exclusive group %s", strings.Join(act.Groups, ", "))
	}
	return notice, entry
}

// record writes the audit record for the confirmed removals. Failures are
// warnings: the platform state is authoritative.
func (c *Coordinator) record(ctx context.Context, act *Action) {
	rec := audit.Record{
		Timestamp:    c.opts.Now().UTC(),
		RemovedRoles: act.Removed,
		Action:       act.Kind,
		Reason:       act.Reason,
		ActionID:     act.ID,
	}
	if len(act.Retained) > 0 {
		rec.NewRole = act.Retained[0]
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	if err := c.deps.Store.Record(callCtx, act.Member, rec); err != nil {
		log.Printf("WARNING: Coordinator: failed to write audit record for member %s (action %s): %v", act.Member, act.ID, err)
		c.deps.Metrics.RecordSideEffectError(ctx, "audit")
	}
}

func groupLabel(groups []string) string {
	if len(groups) != 1 {
		return "Exclusive"
	}
	name := groups[0]
	if name == "" {
		return "Exclusive"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func mutationErrorKind(err error) string {
	switch {
	case errors.Is(err, platform.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, platform.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
