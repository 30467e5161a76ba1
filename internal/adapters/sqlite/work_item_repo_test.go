package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/capa/internal/adapters/sqlite"
	"github.com/example/capa/internal/ports/secondary"
)

func TestWorkItemRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()

	due := baseTime.Add(72 * time.Hour)
	item := &secondary.WorkItemRecord{
		ID:                 "CA-0001",
		IncidentRef:        "INC-42",
		Title:              "Replace failed valve",
		Description:        "Valve V-3 leaked during inspection",
		DueDate:            due,
		Priority:           "high",
		ClassificationTags: []string{"safety", "mechanical"},
		OwnerID:            "alice",
		CreatedAt:          baseTime,
		UpdatedAt:          baseTime,
	}
	require.NoError(t, repo.Create(ctx, item))

	got, err := repo.GetByID(ctx, "CA-0001")
	require.NoError(t, err)
	assert.Equal(t, "not_started", got.Status)
	assert.Equal(t, "INC-42", got.IncidentRef)
	assert.Equal(t, "Valve V-3 leaked during inspection", got.Description)
	assert.Equal(t, []string{"safety", "mechanical"}, got.ClassificationTags)
	assert.True(t, due.Equal(got.DueDate), "due date round-trip: %v", got.DueDate)
	assert.False(t, got.Overdue)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.AbortedAt)
}

func TestWorkItemRepository_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)

	_, err := repo.GetByID(context.Background(), "CA-9999")
	require.ErrorIs(t, err, secondary.ErrNotFound)
}

func TestWorkItemRepository_GetNextID(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()

	id, err := repo.GetNextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CA-0001", id)

	seedAction(t, db, "CA-0001", baseTime)
	seedAction(t, db, "CA-0007", baseTime)

	id, err = repo.GetNextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CA-0008", id)
}

func TestWorkItemRepository_List_Filters(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()

	seedAction(t, db, "CA-0001", baseTime.Add(2*time.Hour))
	seedAction(t, db, "CA-0002", baseTime.Add(1*time.Hour))
	seedAction(t, db, "CA-0003", baseTime.Add(3*time.Hour))
	_, err := db.Exec("UPDATE corrective_actions SET overdue = 1, owner_id = 'bob' WHERE id = 'CA-0003'")
	require.NoError(t, err)

	all, err := repo.List(ctx, secondary.WorkItemFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "CA-0002", all[0].ID, "ordered by due date")

	overdue := true
	got, err := repo.List(ctx, secondary.WorkItemFilters{Overdue: &overdue})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CA-0003", got[0].ID)

	got, err = repo.List(ctx, secondary.WorkItemFilters{OwnerID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = repo.List(ctx, secondary.WorkItemFilters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestWorkItemRepository_LoadActiveWorkItems_Pages(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seedAction(t, db, fmt.Sprintf("CA-%04d", i), baseTime)
	}
	_, err := db.Exec("UPDATE corrective_actions SET status = 'aborted' WHERE id = 'CA-0003'")
	require.NoError(t, err)

	var seen []string
	token := ""
	pages := 0
	for {
		items, next, err := repo.LoadActiveWorkItems(ctx, token, 2)
		require.NoError(t, err)
		pages++
		for _, item := range items {
			seen = append(seen, item.ID)
		}
		if next == "" {
			break
		}
		token = next
	}

	assert.Equal(t, []string{"CA-0001", "CA-0002", "CA-0004", "CA-0005"}, seen)
	assert.Equal(t, 2, pages)
}

func TestWorkItemRepository_LoadActiveWorkItems_RejectsZeroLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)

	_, _, err := repo.LoadActiveWorkItems(context.Background(), "", 0)
	require.Error(t, err)
}

func TestWorkItemRepository_SaveStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()
	seedAction(t, db, "CA-0001", baseTime)

	completedAt := baseTime.Add(time.Hour)
	err := repo.SaveStatus(ctx, secondary.StatusUpdate{
		ID:          "CA-0001",
		Status:      "completed",
		Overdue:     true,
		CompletedAt: &completedAt,
		UpdatedAt:   completedAt,
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "CA-0001")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.True(t, got.Overdue)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completedAt.Equal(*got.CompletedAt))
}

func TestWorkItemRepository_SaveStatus_SkipsAborted(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()
	seedAction(t, db, "CA-0001", baseTime)
	_, err := db.Exec("UPDATE corrective_actions SET status = 'aborted' WHERE id = 'CA-0001'")
	require.NoError(t, err)

	err = repo.SaveStatus(ctx, secondary.StatusUpdate{ID: "CA-0001", Status: "in_progress", UpdatedAt: baseTime})
	require.ErrorIs(t, err, secondary.ErrNotFound)

	got, err := repo.GetByID(ctx, "CA-0001")
	require.NoError(t, err)
	assert.Equal(t, "aborted", got.Status)
}

func TestWorkItemRepository_SaveStatus_ExpectedStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()
	seedAction(t, db, "CA-0001", baseTime)

	err := repo.SaveStatus(ctx, secondary.StatusUpdate{
		ID: "CA-0001", Status: "in_progress", ExpectedStatus: "completed", UpdatedAt: baseTime,
	})
	require.ErrorIs(t, err, secondary.ErrStaleState)

	require.NoError(t, repo.SaveStatus(ctx, secondary.StatusUpdate{
		ID: "CA-0001", Status: "in_progress", ExpectedStatus: "not_started", UpdatedAt: baseTime,
	}))
	got, err := repo.GetByID(ctx, "CA-0001")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", got.Status)
}

func TestWorkItemRepository_SaveAbortMetadata(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewWorkItemRepository(db)
	ctx := context.Background()
	seedAction(t, db, "CA-0001", baseTime)
	_, err := db.Exec("UPDATE corrective_actions SET overdue = 1 WHERE id = 'CA-0001'")
	require.NoError(t, err)

	abortedAt := baseTime.Add(2 * time.Hour)
	require.NoError(t, repo.SaveAbortMetadata(ctx, secondary.AbortRecord{
		ID:        "CA-0001",
		Actor:     "carol",
		Reason:    "duplicate of CA-0002",
		AbortedAt: abortedAt,
	}))

	got, err := repo.GetByID(ctx, "CA-0001")
	require.NoError(t, err)
	assert.Equal(t, "aborted", got.Status)
	assert.False(t, got.Overdue)
	assert.Equal(t, "carol", got.AbortedBy)
	assert.Equal(t, "duplicate of CA-0002", got.AbortReason)
	require.NotNil(t, got.AbortedAt)
	assert.True(t, abortedAt.Equal(*got.AbortedAt))

	// A second abort finds no active row.
	err = repo.SaveAbortMetadata(ctx, secondary.AbortRecord{ID: "CA-0001", Actor: "dave", Reason: "again", AbortedAt: abortedAt})
	require.ErrorIs(t, err, secondary.ErrNotFound)
}
