package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/capa/internal/core/status"
)

func TestCanTransitionParent(t *testing.T) {
	tests := []struct {
		name        string
		ctx         ParentTransitionContext
		wantAllowed bool
		wantErr     error
	}{
		{
			name:        "start childless action",
			ctx:         ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentNotStarted, Requested: status.ParentInProgress},
			wantAllowed: true,
		},
		{
			name:        "complete childless action",
			ctx:         ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentInProgress, Requested: status.ParentCompleted},
			wantAllowed: true,
		},
		{
			name:        "abort completed action",
			ctx:         ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentCompleted, Requested: status.ParentAborted},
			wantAllowed: true,
		},
		{
			name:        "abort action with sub-actions",
			ctx:         ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentInProgress, Requested: status.ParentAborted, HasChildren: true},
			wantAllowed: true,
		},
		{
			name:    "skip straight to completed",
			ctx:     ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentNotStarted, Requested: status.ParentCompleted},
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "reopen completed action",
			ctx:     ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentCompleted, Requested: status.ParentInProgress},
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "leave aborted",
			ctx:     ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentAborted, Requested: status.ParentInProgress},
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "abort twice",
			ctx:     ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentAborted, Requested: status.ParentAborted, HasChildren: true},
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "direct write on aggregated action",
			ctx:     ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentNotStarted, Requested: status.ParentInProgress, HasChildren: true},
			wantErr: ErrAggregatedStatusIsReadOnly,
		},
		{
			name:    "illegal edge on aggregated action reports read-only",
			ctx:     ParentTransitionContext{ActionID: "CA-0001", Current: status.ParentCompleted, Requested: status.ParentNotStarted, HasChildren: true},
			wantErr: ErrAggregatedStatusIsReadOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransitionParent(tt.ctx)
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			if tt.wantAllowed {
				assert.NoError(t, result.Error())
				return
			}
			assert.ErrorIs(t, result.Error(), tt.wantErr)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestCanTransitionChild(t *testing.T) {
	allowed := map[status.ChildStatus][]status.ChildStatus{
		status.ChildNotStarted: {status.ChildInProgress, status.ChildCancelled},
		status.ChildInProgress: {status.ChildCompleted, status.ChildCancelled},
	}

	for _, from := range status.AllChild {
		for _, to := range status.AllChild {
			result := CanTransitionChild(ChildTransitionContext{SubActionID: "SA-0001", Current: from, Requested: to})
			want := contains(allowed[from], to)
			require.Equal(t, want, result.Allowed, "%s -> %s", from, to)
			if !want {
				require.ErrorIs(t, result.Error(), ErrIllegalTransition)
			}
		}
	}
}

func TestCanTransitionChild_Reason(t *testing.T) {
	result := CanTransitionChild(ChildTransitionContext{
		SubActionID: "SA-0007",
		Current:     status.ChildCompleted,
		Requested:   status.ChildInProgress,
	})
	assert.False(t, result.Allowed)
	assert.Equal(t, "sub-action SA-0007 cannot move from completed to in_progress", result.Reason)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("not_started", "in_progress", status.KindSubItem))
	assert.NoError(t, Validate("in progress", "completed", status.KindWorkItem))

	assert.ErrorIs(t, Validate("completed", "in_progress", status.KindSubItem), ErrIllegalTransition)
	assert.ErrorIs(t, Validate("bogus", "in_progress", status.KindSubItem), status.ErrInvalidStatusValue)
	assert.ErrorIs(t, Validate("not_started", "cancelled", status.KindWorkItem), status.ErrInvalidStatusValue)
	assert.ErrorIs(t, Validate("not_started", "in_progress", status.Kind("incident")), status.ErrInvalidStatusValue)
}

func TestCanAbort(t *testing.T) {
	assert.True(t, CanAbort(AbortContext{ActionID: "CA-0001", Reason: "duplicate of CA-0002"}).Allowed)

	result := CanAbort(AbortContext{ActionID: "CA-0001", Reason: "   "})
	assert.False(t, result.Allowed)
	assert.ErrorIs(t, result.Error(), ErrAbortReasonRequired)
}

func TestCanAddSubAction(t *testing.T) {
	tests := []struct {
		parent      status.ParentStatus
		wantAllowed bool
	}{
		{status.ParentNotStarted, true},
		{status.ParentInProgress, true},
		{status.ParentCompleted, false},
		{status.ParentAborted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.parent), func(t *testing.T) {
			result := CanAddSubAction(SubActionParentContext{ActionID: "CA-0001", ParentStatus: tt.parent})
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			if !tt.wantAllowed {
				assert.ErrorIs(t, result.Error(), ErrParentTerminal)
			}
		})
	}
}

func TestAllowedTargets(t *testing.T) {
	assert.Equal(t, []status.ParentStatus{status.ParentInProgress, status.ParentAborted}, AllowedParentTargets(status.ParentNotStarted, false))
	assert.Equal(t, []status.ParentStatus{status.ParentAborted}, AllowedParentTargets(status.ParentNotStarted, true))
	assert.Empty(t, AllowedParentTargets(status.ParentAborted, true))
	assert.Equal(t, []status.ChildStatus{status.ChildCompleted, status.ChildCancelled}, AllowedChildTargets(status.ChildInProgress))
	assert.Empty(t, AllowedChildTargets(status.ChildCancelled))
}

func contains(list []status.ChildStatus, s status.ChildStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
