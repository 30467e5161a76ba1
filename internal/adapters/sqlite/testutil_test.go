// Package sqlite_test contains integration tests for SQLite repositories.
//
// Every test database is built by db.Open, which runs the embedded goose
// migrations. Do not hardcode CREATE TABLE statements in test files; use
// setupTestDB() and the seed* helpers instead.
package sqlite_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/capa/internal/db"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// setupTestDB creates a migrated database in a per-test temp directory.
// A file is used rather than :memory: so every pooled connection sees the
// same schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := db.Open(filepath.Join(t.TempDir(), "capa-test.db"))
	require.NoError(t, err, "failed to open test db")

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// seedAction inserts a not-started corrective action due at due.
func seedAction(t *testing.T, db *sql.DB, id string, due time.Time) string {
	t.Helper()
	if id == "" {
		id = "CA-0001"
	}
	_, err := db.Exec(
		`INSERT INTO corrective_actions (id, title, due_date, status, created_at, updated_at)
			VALUES (?, ?, ?, 'not_started', ?, ?)`,
		id, "Action "+id, due, baseTime, baseTime,
	)
	require.NoError(t, err, "failed to seed corrective action")
	return id
}

// seedSubAction inserts a sub-action with the given status.
func seedSubAction(t *testing.T, db *sql.DB, id, actionID, status string) string {
	t.Helper()
	if status == "" {
		status = "not_started"
	}
	_, err := db.Exec(
		`INSERT INTO sub_actions (id, action_id, title, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		id, actionID, "Sub "+id, status, baseTime, baseTime,
	)
	require.NoError(t, err, "failed to seed sub-action")
	return id
}
