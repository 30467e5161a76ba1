// Package transition contains the pure status-change rules for corrective
// actions and sub-actions.
// Guards are pure functions that evaluate preconditions without side effects.
package transition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/capa/internal/core/status"
)

var (
	// ErrIllegalTransition is returned when the requested edge is not allowed.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrAggregatedStatusIsReadOnly is returned for a direct, non-abort status
	// write to a corrective action that has sub-actions.
	ErrAggregatedStatusIsReadOnly = errors.New("status is derived from sub-actions and is read-only")

	// ErrAbortReasonRequired is returned when an abort has no reason.
	ErrAbortReasonRequired = errors.New("abort reason is required")

	// ErrParentTerminal is returned when a sub-action is added to a
	// corrective action that is completed or aborted.
	ErrParentTerminal = errors.New("corrective action is closed")
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
	Err     error // sentinel classifying the rejection
}

// Error converts the guard result to an error if not allowed.
// The returned error wraps the sentinel so callers can use errors.Is.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	if r.Err == nil {
		return fmt.Errorf("%s", r.Reason)
	}
	return fmt.Errorf("%w: %s", r.Err, r.Reason)
}

var parentEdges = map[status.ParentStatus][]status.ParentStatus{
	status.ParentNotStarted: {status.ParentInProgress, status.ParentAborted},
	status.ParentInProgress: {status.ParentCompleted, status.ParentAborted},
	status.ParentCompleted:  {status.ParentAborted},
	status.ParentAborted:    {},
}

var childEdges = map[status.ChildStatus][]status.ChildStatus{
	status.ChildNotStarted: {status.ChildInProgress, status.ChildCancelled},
	status.ChildInProgress: {status.ChildCompleted, status.ChildCancelled},
	status.ChildCompleted:  {},
	status.ChildCancelled:  {},
}

// AllowedParentTargets returns the statuses a corrective action may move to
// by direct write. Only abort is offered when the action has sub-actions.
func AllowedParentTargets(current status.ParentStatus, hasChildren bool) []status.ParentStatus {
	var out []status.ParentStatus
	for _, to := range parentEdges[current] {
		if hasChildren && to != status.ParentAborted {
			continue
		}
		out = append(out, to)
	}
	return out
}

// AllowedChildTargets returns the statuses a sub-action may move to.
func AllowedChildTargets(current status.ChildStatus) []status.ChildStatus {
	return append([]status.ChildStatus(nil), childEdges[current]...)
}

// ParentTransitionContext provides context for a direct corrective action write.
type ParentTransitionContext struct {
	ActionID    string
	Current     status.ParentStatus
	Requested   status.ParentStatus
	HasChildren bool
}

// CanTransitionParent evaluates a direct status write on a corrective action.
// Rules:
// - With sub-actions, only abort may be written directly
// - The requested edge must be in the allowed set
func CanTransitionParent(ctx ParentTransitionContext) GuardResult {
	if ctx.HasChildren && ctx.Requested != status.ParentAborted {
		return GuardResult{
			Reason: fmt.Sprintf("corrective action %s has sub-actions; its status follows them and only abort may be set directly", label(ctx.ActionID)),
			Err:    ErrAggregatedStatusIsReadOnly,
		}
	}

	for _, to := range parentEdges[ctx.Current] {
		if to == ctx.Requested {
			return GuardResult{Allowed: true}
		}
	}

	return GuardResult{
		Reason: fmt.Sprintf("corrective action %s cannot move from %s to %s", label(ctx.ActionID), ctx.Current, ctx.Requested),
		Err:    ErrIllegalTransition,
	}
}

// ChildTransitionContext provides context for a sub-action status change.
type ChildTransitionContext struct {
	SubActionID string
	Current     status.ChildStatus
	Requested   status.ChildStatus
}

// CanTransitionChild evaluates a sub-action status change.
// Rules:
// - The requested edge must be in the allowed set
func CanTransitionChild(ctx ChildTransitionContext) GuardResult {
	for _, to := range childEdges[ctx.Current] {
		if to == ctx.Requested {
			return GuardResult{Allowed: true}
		}
	}

	return GuardResult{
		Reason: fmt.Sprintf("sub-action %s cannot move from %s to %s", label(ctx.SubActionID), ctx.Current, ctx.Requested),
		Err:    ErrIllegalTransition,
	}
}

// ValidateParent checks a direct corrective action write.
func ValidateParent(current, requested status.ParentStatus, hasChildren bool) error {
	return CanTransitionParent(ParentTransitionContext{
		Current:     current,
		Requested:   requested,
		HasChildren: hasChildren,
	}).Error()
}

// ValidateChild checks a sub-action status change.
func ValidateChild(current, requested status.ChildStatus) error {
	return CanTransitionChild(ChildTransitionContext{
		Current:   current,
		Requested: requested,
	}).Error()
}

// Validate parses raw status strings for the given kind and checks the edge.
// Direct writes to corrective actions are validated as childless; callers
// that know the action has sub-actions use ValidateParent.
func Validate(current, requested string, kind status.Kind) error {
	switch kind {
	case status.KindWorkItem:
		from, err := status.ParseParent(current)
		if err != nil {
			return err
		}
		to, err := status.ParseParent(requested)
		if err != nil {
			return err
		}
		return ValidateParent(from, to, false)
	case status.KindSubItem:
		from, err := status.ParseChild(current)
		if err != nil {
			return err
		}
		to, err := status.ParseChild(requested)
		if err != nil {
			return err
		}
		return ValidateChild(from, to)
	}
	return fmt.Errorf("%w: unknown item kind %q", status.ErrInvalidStatusValue, kind)
}

// AbortContext provides context for abort guards.
type AbortContext struct {
	ActionID string
	Reason   string
}

// CanAbort evaluates whether an abort request carries a reason.
func CanAbort(ctx AbortContext) GuardResult {
	if strings.TrimSpace(ctx.Reason) == "" {
		return GuardResult{
			Reason: fmt.Sprintf("aborting corrective action %s needs a reason", label(ctx.ActionID)),
			Err:    ErrAbortReasonRequired,
		}
	}
	return GuardResult{Allowed: true}
}

// SubActionParentContext provides context for guards on a sub-action's parent.
type SubActionParentContext struct {
	ActionID     string
	ParentStatus status.ParentStatus
}

// CanAddSubAction evaluates whether a new sub-action may be opened.
// Rules:
// - Parent must not be completed or aborted
func CanAddSubAction(ctx SubActionParentContext) GuardResult {
	if ctx.ParentStatus.IsTerminal() {
		return GuardResult{
			Reason: fmt.Sprintf("corrective action %s is %s; open a new corrective action instead", label(ctx.ActionID), ctx.ParentStatus),
			Err:    ErrParentTerminal,
		}
	}
	return GuardResult{Allowed: true}
}

func label(id string) string {
	if id == "" {
		return "(unsaved)"
	}
	return id
}
