package db

import (
	"database/sql"
	"fmt"
)

// CommandRun represents a row in the command_runs table.
type CommandRun struct {
	ID         int
	JobID      string
	Command    string
	Runtime    string
	State      string
	ExitCode   *int
	DurationMs int
	ServerURL  string
	Category   string
	Timestamp  string
}

// FixAttempt represents a row in the fix_attempts table.
type FixAttempt struct {
	ID          int
	JobID       string
	Fingerprint string
	Category    string
	Tier        string
	Attempt     int
	Success     bool
	DurationMs  int
	Detail      string
	Timestamp   string
}

// JobEvent represents a row in the job_events table.
type JobEvent struct {
	ID        int
	JobID     string
	Event     string
	Detail    string
	Timestamp string
}

// LogCommandRun inserts a finished command run.
func (d *DB) LogCommandRun(jobID, command, runtime, state string, exitCode *int, durationMs int, serverURL, category string) error {
	_, err := d.conn.Exec(
		`INSERT INTO command_runs (job_id, command, runtime, state, exit_code, duration_ms, server_url, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, command, runtime, state, exitCode, durationMs, serverURL, category,
	)
	if err != nil {
		return fmt.Errorf("log command run: %w", err)
	}
	return nil
}

// LogFixAttempt inserts a fix attempt outcome.
func (d *DB) LogFixAttempt(jobID, fingerprint, category, tier string, attempt int, success bool, durationMs int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO fix_attempts (job_id, fingerprint, category, tier, attempt, success, duration_ms, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, fingerprint, category, tier, attempt, success, durationMs, detail,
	)
	if err != nil {
		return fmt.Errorf("log fix attempt: %w", err)
	}
	return nil
}

// LogJobEvent inserts a job lifecycle event.
func (d *DB) LogJobEvent(jobID, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO job_events (job_id, event, detail) VALUES (?, ?, ?)`,
		jobID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log job event: %w", err)
	}
	return nil
}

// GetCommandRuns returns a job's command runs, newest first.
func (d *DB) GetCommandRuns(jobID string, limit int) ([]CommandRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, job_id, command, runtime, state, exit_code, duration_ms, server_url, category, timestamp
		 FROM command_runs WHERE job_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get command runs: %w", err)
	}
	defer rows.Close()

	var runs []CommandRun
	for rows.Next() {
		var r CommandRun
		var exitCode sql.NullInt64
		var serverURL, category sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&r.ID, &r.JobID, &r.Command, &r.Runtime, &r.State,
			&exitCode, &durationMs, &serverURL, &category, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan command run: %w", err)
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			r.ExitCode = &v
		}
		r.DurationMs = int(durationMs.Int64)
		r.ServerURL = serverURL.String
		r.Category = category.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetFixAttempts returns a job's fix attempts, newest first.
func (d *DB) GetFixAttempts(jobID string, limit int) ([]FixAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, job_id, fingerprint, category, tier, attempt, success, duration_ms, detail, timestamp
		 FROM fix_attempts WHERE job_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get fix attempts: %w", err)
	}
	defer rows.Close()

	var attempts []FixAttempt
	for rows.Next() {
		var a FixAttempt
		var durationMs sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&a.ID, &a.JobID, &a.Fingerprint, &a.Category, &a.Tier,
			&a.Attempt, &a.Success, &durationMs, &detail, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fix attempt: %w", err)
		}
		a.DurationMs = int(durationMs.Int64)
		a.Detail = detail.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetJobEvents returns a job's lifecycle events, newest first.
func (d *DB) GetJobEvents(jobID string, limit int) ([]JobEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.conn.Query(
		`SELECT id, job_id, event, detail, timestamp
		 FROM job_events WHERE job_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get job events: %w", err)
	}
	defer rows.Close()

	var events []JobEvent
	for rows.Next() {
		var e JobEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// FixSuccessRate returns (successes, total) fix attempts for a job, or
// across all jobs when jobID is empty.
func (d *DB) FixSuccessRate(jobID string) (int, int, error) {
	query := `SELECT COALESCE(SUM(success), 0), COUNT(*) FROM fix_attempts`
	args := []any{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	var successes, total int
	if err := d.conn.QueryRow(query, args...).Scan(&successes, &total); err != nil {
		return 0, 0, fmt.Errorf("fix success rate: %w", err)
	}
	return successes, total, nil
}
