// Package aggregation derives a corrective action's status from its sub-actions.
// This is part of the Functional Core - no I/O, only pure functions.
//
// The same functions back the interactive mutation path and the periodic
// reconciliation sweep, so both converge on one fixed point.
package aggregation

import "github.com/example/capa/internal/core/status"

// Counts tallies children by status.
type Counts struct {
	NotStarted int
	InProgress int
	Completed  int
	Cancelled  int
}

// Total returns the number of children counted, cancelled included.
func (c Counts) Total() int {
	return c.NotStarted + c.InProgress + c.Completed + c.Cancelled
}

// Active returns the number of children still carrying work.
func (c Counts) Active() int {
	return c.NotStarted + c.InProgress
}

// Count tallies the given child statuses.
func Count(children []status.ChildStatus) Counts {
	var c Counts
	for _, s := range children {
		switch s {
		case status.ChildNotStarted:
			c.NotStarted++
		case status.ChildInProgress:
			c.InProgress++
		case status.ChildCompleted:
			c.Completed++
		case status.ChildCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Aggregate computes the parent status from the current parent status and
// its children's statuses.
// Rules, first match wins:
// 1. aborted parent stays aborted, children are ignored
// 2. no children: the parent's own status stands
// 3. all not_started or cancelled: not_started
// 4. any in_progress: in_progress
// 5. active work mixed with completed or cancelled: in_progress
// 6. all completed or cancelled with at least one completed: completed
// 7. otherwise: not_started
func Aggregate(current status.ParentStatus, children []status.ChildStatus) status.ParentStatus {
	if current == status.ParentAborted {
		return status.ParentAborted
	}
	if len(children) == 0 {
		return current
	}

	c := Count(children)
	switch {
	case c.NotStarted+c.Cancelled == c.Total():
		return status.ParentNotStarted
	case c.InProgress > 0:
		return status.ParentInProgress
	case c.Active() > 0 && c.Completed+c.Cancelled > 0:
		return status.ParentInProgress
	case c.Active() == 0 && c.Completed > 0:
		return status.ParentCompleted
	default:
		return status.ParentNotStarted
	}
}
