// Package checkpoint persists generation-job workflow progress so a job can
// resume after a lost connection or a process restart. One record per job
// id, independent of any single command run. Writes are committed before
// the caller is told a step completed — the store is the recovery boundary.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the job-level workflow status.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// StepStatus is the outcome reported for a single workflow step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// DefaultMaxRetries bounds how many times a job may be resumed.
const DefaultMaxRetries = 3

// DefaultTTL is the inactivity window after which records are garbage
// collected.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no record exists for a job id. A missing or
// corrupt record means "cannot resume" — the store never fabricates a
// default record.
var ErrNotFound = errors.New("checkpoint not found")

// FileRef describes one generated or pending project file.
type FileRef struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// Record is the persisted workflow progress for one generation job.
type Record struct {
	JobID          string            `json:"job_id"`
	OwnerID        string            `json:"owner_id"`
	Workflow       string            `json:"workflow"`
	Status         Status            `json:"status"`
	CurrentStep    string            `json:"current_step,omitempty"`
	CompletedSteps []string          `json:"completed_steps"`
	FailedStep     string            `json:"failed_step,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	GeneratedFiles []FileRef         `json:"generated_files"`
	PendingFiles   []FileRef         `json:"pending_files"`
	Context        map[string]string `json:"context"`
	RetryCount     int               `json:"retry_count"`
	MaxRetries     int               `json:"max_retries"`
	CanResume      bool              `json:"can_resume"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// StepDone reports whether step is already in the completed list.
func (r *Record) StepDone(step string) bool {
	for _, s := range r.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// ResumePoint is the contract the external resume workflow consumes: where
// to pick the job back up.
type ResumePoint struct {
	NextStep       string    `json:"next_step"`
	CompletedSteps []string  `json:"completed_steps"`
	PendingFiles   []FileRef `json:"pending_files"`
	RetryCount     int       `json:"retry_count"`
}

// Store is the persistence contract. Implementations: SQLite (default) and
// Postgres for multi-instance deployments.
type Store interface {
	Create(ctx context.Context, jobID, ownerID, workflow string, initial map[string]string) (*Record, error)
	Get(ctx context.Context, jobID string) (*Record, error)
	List(ctx context.Context, status Status) ([]*Record, error)

	// UpdateStep records a step transition. Completing an
	// already-completed step is a no-op on the completed list.
	UpdateStep(ctx context.Context, jobID, step string, status StepStatus, stepCtx map[string]string, errMsg string) error

	AddGeneratedFile(ctx context.Context, jobID string, f FileRef) error
	AddPendingFiles(ctx context.Context, jobID string, fs []FileRef) error

	GetResumePoint(ctx context.Context, jobID string) (*ResumePoint, error)
	MarkResumed(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkInterrupted(ctx context.Context, jobID, reason string) error

	Delete(ctx context.Context, jobID string) error
	CleanupOlderThan(ctx context.Context, age time.Duration) (int, error)
	Close() error
}

// workflows is the closed set of workflow types and their canonical step
// order. Unknown workflow types and step names are rejected at the
// boundary rather than accepted as free-form input.
var workflows = map[string][]string{
	"app":     {"planning", "backend", "frontend", "integration", "finalize"},
	"feature": {"planning", "generation", "integration"},
}

// StepsFor returns the canonical step order for a workflow type.
func StepsFor(workflow string) ([]string, error) {
	steps, ok := workflows[workflow]
	if !ok {
		return nil, fmt.Errorf("unknown workflow type %q", workflow)
	}
	return steps, nil
}

// validStep checks step against the workflow's canonical order.
func validStep(workflow, step string) error {
	steps, err := StepsFor(workflow)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s == step {
			return nil
		}
	}
	return fmt.Errorf("unknown step %q for workflow %q", step, workflow)
}

// resumePointFor computes the resume point from a record: the first
// not-yet-completed step in canonical order, and the pending files not
// already generated.
func resumePointFor(rec *Record) (*ResumePoint, error) {
	if !rec.CanResume {
		return nil, fmt.Errorf("job %s cannot resume (status %s, retry %d/%d)",
			rec.JobID, rec.Status, rec.RetryCount, rec.MaxRetries)
	}
	steps, err := StepsFor(rec.Workflow)
	if err != nil {
		return nil, err
	}

	next := ""
	for _, s := range steps {
		if !rec.StepDone(s) {
			next = s
			break
		}
	}

	generated := make(map[string]bool, len(rec.GeneratedFiles))
	for _, f := range rec.GeneratedFiles {
		generated[f.Path] = true
	}
	var pending []FileRef
	for _, f := range rec.PendingFiles {
		if !generated[f.Path] {
			pending = append(pending, f)
		}
	}

	return &ResumePoint{
		NextStep:       next,
		CompletedSteps: rec.CompletedSteps,
		PendingFiles:   pending,
		RetryCount:     rec.RetryCount,
	}, nil
}

// applyStepUpdate mutates rec for one step transition. Shared by the
// SQLite and Postgres backends inside their read-modify-write
// transactions.
func applyStepUpdate(rec *Record, step string, status StepStatus, stepCtx map[string]string, errMsg string) error {
	if err := validStep(rec.Workflow, step); err != nil {
		return err
	}

	rec.CurrentStep = step
	for k, v := range stepCtx {
		if rec.Context == nil {
			rec.Context = make(map[string]string)
		}
		rec.Context[k] = v
	}

	switch status {
	case StepStarted:
		rec.Status = StatusInProgress
	case StepCompleted:
		rec.Status = StatusInProgress
		if !rec.StepDone(step) {
			rec.CompletedSteps = append(rec.CompletedSteps, step)
		}
	case StepFailed:
		rec.Status = StatusFailed
		rec.FailedStep = step
		rec.ErrorMessage = errMsg
		rec.CanResume = rec.RetryCount < rec.MaxRetries
	default:
		return fmt.Errorf("unknown step status %q", status)
	}
	return nil
}

// applyGeneratedFile appends f to the generated list (deduplicated by path)
// and drops the path from pending.
func applyGeneratedFile(rec *Record, f FileRef) {
	for _, g := range rec.GeneratedFiles {
		if g.Path == f.Path {
			return
		}
	}
	rec.GeneratedFiles = append(rec.GeneratedFiles, f)

	kept := rec.PendingFiles[:0]
	for _, p := range rec.PendingFiles {
		if p.Path != f.Path {
			kept = append(kept, p)
		}
	}
	rec.PendingFiles = kept
}

// applyPendingFiles appends fs to the pending list, skipping paths already
// pending or generated.
func applyPendingFiles(rec *Record, fs []FileRef) {
	seen := make(map[string]bool, len(rec.PendingFiles)+len(rec.GeneratedFiles))
	for _, p := range rec.PendingFiles {
		seen[p.Path] = true
	}
	for _, g := range rec.GeneratedFiles {
		seen[g.Path] = true
	}
	for _, f := range fs {
		if !seen[f.Path] {
			rec.PendingFiles = append(rec.PendingFiles, f)
			seen[f.Path] = true
		}
	}
}
