package logaudit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/capa/internal/ctxutil"
	"github.com/example/capa/internal/ports/secondary"
)

func TestEmitter_LogsChangedFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(zerolog.New(&buf))

	err := e.Emit(context.Background(), secondary.TransitionEvent{
		ID:         "evt-1",
		ItemID:     "CA-0001",
		ItemKind:   "work_item",
		OldStatus:  "in_progress",
		NewStatus:  "in_progress",
		OldOverdue: false,
		NewOverdue: true,
		Source:     secondary.SourceSweep,
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"component":"audit"`)
	assert.Contains(t, out, `"status":"in_progress"`)
	assert.Contains(t, out, `"new_overdue":true`)
	assert.NotContains(t, out, "actor")
}

func TestEmitter_TagsSweepRun(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(zerolog.New(&buf))

	ctx := ctxutil.WithRunID(context.Background(), "run-42")
	require.NoError(t, e.Emit(ctx, secondary.TransitionEvent{ID: "evt-2", ItemID: "CA-0002", Source: secondary.SourceSweep}))

	assert.Contains(t, buf.String(), `"run_id":"run-42"`)
}
