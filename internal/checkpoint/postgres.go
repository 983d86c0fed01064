package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the checkpoint store with Postgres for deployments
// where several instances share the recovery boundary.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    job_id          TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    workflow        TEXT NOT NULL,
    status          TEXT NOT NULL,
    current_step    TEXT NOT NULL DEFAULT '',
    completed_steps JSONB NOT NULL DEFAULT '[]',
    failed_step     TEXT NOT NULL DEFAULT '',
    error_message   TEXT NOT NULL DEFAULT '',
    generated_files JSONB NOT NULL DEFAULT '[]',
    pending_files   JSONB NOT NULL DEFAULT '[]',
    context         JSONB NOT NULL DEFAULT '{}',
    retry_count     INTEGER NOT NULL DEFAULT 0,
    max_retries     INTEGER NOT NULL DEFAULT 3,
    can_resume      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
`

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSelectCols = `job_id, owner_id, workflow, status, current_step, completed_steps,
	failed_step, error_message, generated_files, pending_files, context,
	retry_count, max_retries, can_resume, created_at, updated_at`

// Create writes a new pending record.
func (s *PostgresStore) Create(ctx context.Context, jobID, ownerID, workflow string, initial map[string]string) (*Record, error) {
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints
		(job_id, owner_id, workflow, status, current_step, completed_steps, failed_step,
		 error_message, generated_files, pending_files, context, retry_count, max_retries,
		 can_resume, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.JobID, rec.OwnerID, rec.Workflow, rec.Status, rec.CurrentStep,
		cols.completed, rec.FailedStep, rec.ErrorMessage, cols.generated,
		cols.pending, cols.context, rec.RetryCount, rec.MaxRetries,
		rec.CanResume, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint %s: %w", jobID, err)
	}
	return rec, nil
}

// Get reads the record for a job id.
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSelectCols+` FROM checkpoints WHERE job_id = $1`, jobID)
	return scanPgRecord(row)
}

// List returns records, optionally filtered by status, newest first.
func (s *PostgresStore) List(ctx context.Context, status Status) ([]*Record, error) {
	query := `SELECT ` + pgSelectCols + ` FROM checkpoints`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// update performs a read-modify-write under a row lock so concurrent
// instances serialize on the record.
func (s *PostgresStore) update(ctx context.Context, jobID string, fn func(*Record) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+pgSelectCols+` FROM checkpoints WHERE job_id = $1 FOR UPDATE`, jobID)
	rec, err := scanPgRecord(row)
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
	_, err = tx.Exec(ctx, `
		UPDATE checkpoints SET
			status = $1, current_step = $2, completed_steps = $3, failed_step = $4,
			error_message = $5, generated_files = $6, pending_files = $7, context = $8,
			retry_count = $9, max_retries = $10, can_resume = $11, updated_at = $12
		WHERE job_id = $13`,
		rec.Status, rec.CurrentStep, cols.completed, rec.FailedStep,
		rec.ErrorMessage, cols.generated, cols.pending, cols.context,
		rec.RetryCount, rec.MaxRetries, rec.CanResume, rec.UpdatedAt, rec.JobID,
	)
	if err != nil {
		return fmt.Errorf("update checkpoint %s: %w", jobID, err)
	}
	return tx.Commit(ctx)
}

// UpdateStep records a step transition.
func (s *PostgresStore) UpdateStep(ctx context.Context, jobID, step string, status StepStatus, stepCtx map[string]string, errMsg string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		return applyStepUpdate(rec, step, status, stepCtx, errMsg)
	})
}

// AddGeneratedFile records a produced file and removes it from pending.
func (s *PostgresStore) AddGeneratedFile(ctx context.Context, jobID string, f FileRef) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		applyGeneratedFile(rec, f)
		return nil
	})
}

// AddPendingFiles queues files still to be generated.
func (s *PostgresStore) AddPendingFiles(ctx context.Context, jobID string, fs []FileRef) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		applyPendingFiles(rec, fs)
		return nil
	})
}

// GetResumePoint computes where a resumable job picks back up.
func (s *PostgresStore) GetResumePoint(ctx context.Context, jobID string) (*ResumePoint, error) {
	rec, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return resumePointFor(rec)
}

// MarkResumed increments the retry count and moves the job back in
// progress.
func (s *PostgresStore) MarkResumed(ctx context.Context, jobID string) error {
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
func (s *PostgresStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		rec.Status = StatusCompleted
		rec.CanResume = false
		return nil
	})
}

// MarkInterrupted flags a disconnect; interrupted jobs stay resumable.
func (s *PostgresStore) MarkInterrupted(ctx context.Context, jobID, reason string) error {
	return s.update(ctx, jobID, func(rec *Record) error {
		rec.Status = StatusInterrupted
		rec.ErrorMessage = reason
		rec.CanResume = true
		return nil
	})
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupOlderThan deletes records not touched within age.
func (s *PostgresStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPgRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var completed, generated, pending, contextJSON []byte

	err := row.Scan(&rec.JobID, &rec.OwnerID, &rec.Workflow, &rec.Status,
		&rec.CurrentStep, &completed, &rec.FailedStep, &rec.ErrorMessage,
		&generated, &pending, &contextJSON, &rec.RetryCount, &rec.MaxRetries,
		&rec.CanResume, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	if err := json.Unmarshal(completed, &rec.CompletedSteps); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (completed steps): %w", rec.JobID, err)
	}
	if err := json.Unmarshal(generated, &rec.GeneratedFiles); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (generated files): %w", rec.JobID, err)
	}
	if err := json.Unmarshal(pending, &rec.PendingFiles); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (pending files): %w", rec.JobID, err)
	}
	if err := json.Unmarshal(contextJSON, &rec.Context); err != nil {
		return nil, fmt.Errorf("checkpoint %s corrupt (context): %w", rec.JobID, err)
	}
	return &rec, nil
}
