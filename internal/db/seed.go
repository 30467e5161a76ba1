package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SeedFixtures populates an empty database with development fixtures
// relative to now. Overdue flags are stored as false everywhere, so the first
// sweep has past-due items to flag.
func SeedFixtures(database *sql.DB, now time.Time) error {
	now = now.UTC()
	stamp := now
	day := 24 * time.Hour

	var existing int
	if err := database.QueryRow("SELECT COUNT(*) FROM corrective_actions").Scan(&existing); err != nil {
		return fmt.Errorf("seed: count corrective actions: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("seed: database already has %d corrective actions", existing)
	}

	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("seed: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Corrective actions. Statuses agree with their sub-actions below.
	actions := []struct {
		id, incident, title, status, tags string
		due                               time.Duration
	}{
		{"CA-0001", "INC-101", "Rotate leaked deploy credentials", "in_progress", `["security"]`, -2 * day},
		{"CA-0002", "INC-101", "Add secret scanning to CI", "not_started", `["security","ci"]`, 14 * day},
		{"CA-0003", "INC-117", "Raise disk alert threshold", "completed", `["monitoring"]`, -5 * day},
		{"CA-0004", "INC-117", "Document failover runbook", "not_started", `["docs"]`, -1 * day},
		{"CA-0005", "INC-120", "Migrate cron host", "aborted", `[]`, -10 * day},
	}
	for _, a := range actions {
		var completedAt, abortedAt, abortedBy, abortReason any
		switch a.status {
		case "completed":
			completedAt = now.Add(-6 * day)
		case "aborted":
			abortedAt = now.Add(-3 * day)
			abortedBy = "seed"
			abortReason = "host decommissioned instead"
		}
		if _, err := tx.Exec(
			`INSERT INTO corrective_actions
				(id, incident_ref, title, due_date, status, classification_tags, overdue,
				 created_at, updated_at, completed_at, aborted_by, aborted_at, abort_reason)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
			a.id, a.incident, a.title, now.Add(a.due), a.status, a.tags,
			stamp, stamp, completedAt, abortedBy, abortedAt, abortReason,
		); err != nil {
			return fmt.Errorf("seed corrective actions: %w", err)
		}
	}

	// Sub-actions
	subs := []struct {
		id, actionID, title, status string
		due                         *time.Duration
	}{
		{"SA-0001", "CA-0001", "Revoke old keys", "completed", nil},
		{"SA-0002", "CA-0001", "Issue new keys", "in_progress", durationPtr(-1 * day)},
		{"SA-0003", "CA-0001", "Notify consumers", "not_started", durationPtr(3 * day)},
		{"SA-0004", "CA-0002", "Evaluate scanners", "not_started", nil},
		{"SA-0005", "CA-0003", "Update alert rule", "completed", nil},
		{"SA-0006", "CA-0003", "Page on-call on breach", "cancelled", nil},
		{"SA-0007", "CA-0005", "Copy crontab", "in_progress", durationPtr(-4 * day)},
	}
	for _, s := range subs {
		var due, completedAt any
		if s.due != nil {
			due = now.Add(*s.due)
		}
		if s.status == "completed" {
			completedAt = now.Add(-6 * day)
		}
		if _, err := tx.Exec(
			`INSERT INTO sub_actions (id, action_id, title, due_date, status, overdue, created_at, updated_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			s.id, s.actionID, s.title, due, s.status, stamp, stamp, completedAt,
		); err != nil {
			return fmt.Errorf("seed sub-actions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed: commit: %w", err)
	}
	return nil
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
