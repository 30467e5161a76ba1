// Package status defines the closed status enums for corrective actions and
// their sub-actions.
// This is part of the Functional Core - no I/O, only pure functions.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStatusValue is returned when a status string is not recognized.
var ErrInvalidStatusValue = errors.New("invalid status value")

// ParentStatus is the status of a corrective action (work item).
type ParentStatus string

const (
	ParentNotStarted ParentStatus = "not_started"
	ParentInProgress ParentStatus = "in_progress"
	ParentCompleted  ParentStatus = "completed"
	ParentAborted    ParentStatus = "aborted"
)

// ChildStatus is the status of a sub-action (sub item).
type ChildStatus string

const (
	ChildNotStarted ChildStatus = "not_started"
	ChildInProgress ChildStatus = "in_progress"
	ChildCompleted  ChildStatus = "completed"
	ChildCancelled  ChildStatus = "cancelled"
)

// Kind identifies which level of the hierarchy an item belongs to.
type Kind string

const (
	KindWorkItem Kind = "work_item"
	KindSubItem  Kind = "sub_item"
)

// AllParent lists every parent status in lifecycle order.
var AllParent = []ParentStatus{ParentNotStarted, ParentInProgress, ParentCompleted, ParentAborted}

// AllChild lists every child status in lifecycle order.
var AllChild = []ChildStatus{ChildNotStarted, ChildInProgress, ChildCompleted, ChildCancelled}

// String implements fmt.Stringer.
func (s ParentStatus) String() string { return string(s) }

// String implements fmt.Stringer.
func (s ChildStatus) String() string { return string(s) }

// IsTerminal reports whether no further user transition can leave s
// other than the abort override.
func (s ParentStatus) IsTerminal() bool {
	return s == ParentCompleted || s == ParentAborted
}

// IsCompleted reports whether s is the completed status.
func (s ParentStatus) IsCompleted() bool { return s == ParentCompleted }

// IsExcluded reports whether s is a terminal status that is never overdue.
func (s ParentStatus) IsExcluded() bool { return s == ParentAborted }

// Valid reports whether s is one of the declared parent statuses.
func (s ParentStatus) Valid() bool {
	for _, v := range AllParent {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s allows no further transitions.
func (s ChildStatus) IsTerminal() bool {
	return s == ChildCompleted || s == ChildCancelled
}

// IsCompleted reports whether s is the completed status.
func (s ChildStatus) IsCompleted() bool { return s == ChildCompleted }

// IsExcluded reports whether s is a terminal status that is never overdue.
func (s ChildStatus) IsExcluded() bool { return s == ChildCancelled }

// Valid reports whether s is one of the declared child statuses.
func (s ChildStatus) Valid() bool {
	for _, v := range AllChild {
		if s == v {
			return true
		}
	}
	return false
}

// ParseParent parses a parent status. Unknown values fail with
// ErrInvalidStatusValue; there is no default.
func ParseParent(raw string) (ParentStatus, error) {
	s := ParentStatus(normalize(raw))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q is not a corrective action status", ErrInvalidStatusValue, raw)
	}
	return s, nil
}

// ParseChild parses a child status. Unknown values fail with
// ErrInvalidStatusValue; there is no default.
func ParseChild(raw string) (ChildStatus, error) {
	s := ChildStatus(normalize(raw))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q is not a sub-action status", ErrInvalidStatusValue, raw)
	}
	return s, nil
}

// ParseKind parses an item kind.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(normalize(raw)); k {
	case KindWorkItem, KindSubItem:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q is not an item kind", ErrInvalidStatusValue, raw)
}

// normalize accepts "In Progress", "in-progress" and "IN_PROGRESS" alike.
func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
