package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default single-node checkpoint backend.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns ~/.fixfactory/checkpoints.db, creating the
// directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".fixfactory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "checkpoints.db"), nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    job_id          TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    workflow        TEXT NOT NULL,
    status          TEXT NOT NULL CHECK(status IN ('pending','in_progress','completed','failed','interrupted')),
    current_step    TEXT NOT NULL DEFAULT '',
    completed_steps TEXT NOT NULL DEFAULT '[]',
    failed_step     TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    generated_files TEXT NOT NULL DEFAULT '[]',
    pending_files   TEXT NOT NULL DEFAULT '[]',
    context         TEXT NOT NULL DEFAULT '{}',
    retry_count     INTEGER NOT NULL DEFAULT 0,
    max_retries     INTEGER NOT NULL DEFAULT 3,
    can_resume      INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
`

// OpenSQLite opens or creates the checkpoint database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Create writes a new pending record. Fails if the job already has one.
func (s *SQLiteStore) Create(ctx context.Context, jobID, ownerID, workflow string, initial map[string]string) (*Record, error) {
	if _, err := StepsFor(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &Record{
		JobID:          jobID,
		OwnerID:        ownerID,
		Workflow:       workflow,
		Status:         StatusPending,
		CompletedSteps: []string{},
		GeneratedFiles: []FileRef{},
		PendingFiles:   []FileRef{},
		Context:        initial,
		MaxRetries:     DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rec.Context == nil {
		rec.Context = map[string]string{}
	}

	cols, err := marshalLists(rec)
	if err != nil {
		return nil, err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO checkpoints
		(job_id, owner_id, workflow, status, current_step, completed_steps, failed_step,
		 error_message, generated_files, pending_files, context, retry_count, max_retries,
		 can_resume, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.OwnerID, rec.Workflow, rec.Status, rec.CurrentStep,
		cols.completed, rec.FailedStep, rec.ErrorMessage, cols.generated,
		cols.pending, cols.context, rec.RetryCount, rec.MaxRetries,
		boolToInt(rec.CanResume), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint %s: %w", jobID, err)
	}
	return rec, nil
}

// Get reads the record for a job id.
func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT job_id, owner_id, workflow, status, current_step, completed_steps,
		       failed_step, error_message, generated_files, pending_files, context,
		       retry_count, max_retries, can_resume, created_at, updated_at
		FROM checkpoints WHERE job_id = ?`, jobID)
	return scanRecord(row)
}

// List returns records, optionally filtered by status ("" = all), newest
// first.
func (s *SQLiteStore) List(ctx context.Context, status Status) ([]*Record, error) {
	query := `
		SELECT job_id, owner_id, workflow, status, current_step, completed_steps,
		       failed_step, error_message, generated_files, pending_files, context,
		       retry_count, max_retries, can_resume, created_at, updated_at
		FROM checkpoints`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// update performs an atomic read-modify-write of one record. The write is
// committed before update returns, so completion acknowledgements are
// durable.
func (s *SQLiteStore) update(ctx context.Context, jobID string, fn func(*Record) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT job_id, owner_id, workflow, status, current_step, completed_steps,
		       failed_step, error_message, generated_files, pending_files, context,
		       retry_count, max_retries, can_resume, created_at, updated_at
		FROM checkpoints WHERE job_id = ?`, jobID)
	rec, err := scanRecord(row)
	if err != nil {
		return err
	}

	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	cols, err := marshalLists(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE checkpoints SET
			status = ?, current_step = ?, completed_steps = ?, failed_step = ?,
			error_message = ?, generated_files = ?, pending_files = ?, context = ?,
			retry_count = ?, max_retries = ?, can_resume = ?, updated_at = ?
		WHERE job_id = ?`,
		rec.Status, rec.CurrentStep, cols.completed, rec.FailedStep,
		rec.ErrorMessage, cols.generated, cols.pending, cols.context,
		rec.RetryCount, rec.MaxRetries, boolToInt(rec.CanResume),
		formatTime(rec.UpdatedAt), rec.JobID,
	)
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", jobID, err)
	}
	return tx.Commit()
}

// UpdateStep records a step transition.
func (s *SQLiteStore) UpdateStep(ctx context.Context, jobID, step string, status StepStatus, stepCtx map[string]string, errMsg string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		return applyStepUpdate(rec, step, status, stepCtx, errMsg)
	})
}

// AddGeneratedFile records a produced file and removes it from pending.
func (s *SQLiteStore) AddGeneratedFile(ctx context.Context, jobID string, f FileRef) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		applyGeneratedFile(rec, f)
		return nil
	})
}

// AddPendingFiles queues files still to be generated.
func (s *SQLiteStore) AddPendingFiles(ctx context.Context, jobID string, fs []FileRef) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		applyPendingFiles(rec, fs)
		return nil
	})
}

// GetResumePoint computes where a resumable job picks back up.
func (s *SQLiteStore) GetResumePoint(ctx context.Context, jobID string) (*ResumePoint, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return resumePointFor(rec)
}

// MarkResumed increments the retry count and moves the job back in
// progress.
func (s *SQLiteStore) MarkResumed(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		if !rec.CanResume {
			return fmt.Errorf("job %s cannot resume", jobID)
		}
		rec.RetryCount++
		rec.Status = StatusInProgress
		return nil
	})
}

// MarkCompleted finishes the job; completed jobs never resume.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		rec.Status = StatusCompleted
		rec.CanResume = false
		return nil
	})
}

// MarkInterrupted flags a disconnect. Interrupted jobs stay resumable
// regardless of retry count.
func (s *SQLiteStore) MarkInterrupted(ctx context.Context, jobID, reason string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		rec.Status = StatusInterrupted
		rec.ErrorMessage = reason
		rec.CanResume = true
		return nil
	})
}

// Delete removes a record (explicit cancel).
func (s *SQLiteStore) Delete(ctx context.Context, jobID string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupOlderThan deletes records not touched within age. Returns how many
// were removed.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := formatTime(time.Now().UTC().Add(-age))
	res, err := s.conn.ExecContext(ctx, `DELETE FROM checkpoints WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- row plumbing ----

type jsonCols struct {
	completed string
	generated string
	pending   string
	context   string
}

func marshalLists(rec *Record) (jsonCols, error) {
	var c jsonCols
	b, err := json.Marshal(rec.CompletedSteps)
	if err != nil {
		return c, fmt.Errorf("marshal completed steps: %w", err)
	}
	c.completed = string(b)
	if b, err = json.Marshal(rec.GeneratedFiles); err != nil {
		return c, fmt.Errorf("marshal generated files: %w", err)
	}
	c.generated = string(b)
	if b, err = json.Marshal(rec.PendingFiles); err != nil {
		return c, fmt.Errorf("marshal pending files: %w", err)
	}
	c.pending = string(b)
	if b, err = json.Marshal(rec.Context); err != nil {
		return c, fmt.Errorf("marshal context: %w", err)
	}
	c.context = string(b)
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var completed, generated, pending, contextJSON string
	var canResume int
	var createdAt, updatedAt string

	err := row.Scan(&rec.JobID, &rec.OwnerID, &rec.Workflow, &rec.Status,
		&rec.CurrentStep, &completed, &rec.FailedStep, &rec.ErrorMessage,
		&generated, &pending, &contextJSON, &rec.RetryCount, &rec.MaxRetries,
		&canResume, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(completed), &rec.CompletedSteps); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (completed steps): %w", rec.JobID, err)
	}
	if err := json.Unmarshal([]byte(generated), &rec.GeneratedFiles); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (generated files): %w", rec.JobID, err)
	}
	if err := json.Unmarshal([]byte(pending), &rec.PendingFiles); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (pending files): %w", rec.JobID, err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (context): %w", rec.JobID, err)
	}
	rec.CanResume = canResume != 0
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (created_at): %w", rec.JobID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (updated_at): %w", rec.JobID, err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
