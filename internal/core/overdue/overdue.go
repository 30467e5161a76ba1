// Package overdue decides whether an item has passed its due date.
// This is part of the Functional Core - no I/O, only pure functions.
// Callers always pass the reference time; nothing here reads a clock.
package overdue

import "time"

// Status is the subset of status behaviour the evaluator needs.
// Both status.ParentStatus and status.ChildStatus satisfy it.
type Status interface {
	IsCompleted() bool
	IsExcluded() bool
}

// Policy resolves how completed items are treated.
type Policy struct {
	// CompletedLateIsOverdue keeps an item that was completed after its due
	// date flagged as overdue. When false, completion always clears the flag.
	CompletedLateIsOverdue bool
}

// DefaultPolicy clears the overdue flag once an item is completed.
var DefaultPolicy = Policy{CompletedLateIsOverdue: false}

// IsOverdue evaluates s under DefaultPolicy.
func IsOverdue(due *time.Time, s Status, now time.Time) bool {
	return DefaultPolicy.Evaluate(due, s, nil, now)
}

// Evaluate reports whether an item is overdue at now.
// Rules:
// - no due date: never overdue
// - aborted or cancelled: never overdue
// - completed: overdue only under CompletedLateIsOverdue and only if
//   completedAt is after due
// - otherwise: overdue once now is strictly after due
func (p Policy) Evaluate(due *time.Time, s Status, completedAt *time.Time, now time.Time) bool {
	if due == nil {
		return false
	}
	if s.IsExcluded() {
		return false
	}
	if s.IsCompleted() {
		if !p.CompletedLateIsOverdue || completedAt == nil {
			return false
		}
		return completedAt.After(*due)
	}
	return now.After(*due)
}
