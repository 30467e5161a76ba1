package aggregation

import (
	"time"

	"github.com/example/capa/internal/core/overdue"
	"github.com/example/capa/internal/core/status"
)

// ParentState is the derivable slice of a stored corrective action.
type ParentState struct {
	Status      status.ParentStatus
	DueDate     *time.Time
	CompletedAt *time.Time
	Overdue     bool
}

// ChildState is the derivable slice of a stored sub-action.
type ChildState struct {
	Status      status.ChildStatus
	DueDate     *time.Time
	CompletedAt *time.Time
	Overdue     bool
}

// Equal reports whether two parent states carry the same derived values.
func (p ParentState) Equal(o ParentState) bool {
	return p.Status == o.Status && p.Overdue == o.Overdue && sameTime(p.CompletedAt, o.CompletedAt)
}

// Equal reports whether two child states carry the same derived values.
func (c ChildState) Equal(o ChildState) bool {
	return c.Status == o.Status && c.Overdue == o.Overdue && sameTime(c.CompletedAt, o.CompletedAt)
}

// DeriveChild recomputes a child's overdue flag. The child's status is
// never changed by derivation.
func DeriveChild(c ChildState, now time.Time, policy overdue.Policy) ChildState {
	c.Overdue = policy.Evaluate(c.DueDate, c.Status, c.CompletedAt, now)
	return c
}

// DeriveParent recomputes a parent's status, completion time and overdue
// flag from its children.
// CompletedAt is stamped with now the first time the parent is derived as
// completed and cleared if it is derived as anything other than completed
// or aborted.
func DeriveParent(p ParentState, children []status.ChildStatus, now time.Time, policy overdue.Policy) ParentState {
	next := p
	next.Status = Aggregate(p.Status, children)

	switch next.Status {
	case status.ParentCompleted:
		if next.CompletedAt == nil {
			stamp := now
			next.CompletedAt = &stamp
		}
	case status.ParentAborted:
	default:
		next.CompletedAt = nil
	}

	next.Overdue = policy.Evaluate(next.DueDate, next.Status, next.CompletedAt, now)
	return next
}

// ChildStatuses extracts the statuses from a set of child states.
func ChildStatuses(children []ChildState) []status.ChildStatus {
	out := make([]status.ChildStatus, len(children))
	for i, c := range children {
		out[i] = c.Status
	}
	return out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
