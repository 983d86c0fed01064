// Package autofix is the per-job controller that decides when to fire an
// automatic repair attempt. It debounces bursts of errors, enforces a
// cooldown between fixes and a per-error retry cap, and guarantees at most
// one repair attempt runs at a time for a job.
package autofix

import (
	"fmt"
	"sync"
	"time"

	"github.com/lucasnoah/fixfactory/internal/classify"
	"github.com/lucasnoah/fixfactory/internal/execctx"
)

// Source tags where an error report came from. Network errors are excluded
// by default: they are rarely fixable by editing code.
type Source string

const (
	SourceBuild     Source = "build"
	SourceRuntime   Source = "runtime"
	SourceBackend   Source = "backend"
	SourceContainer Source = "container"
	SourceNetwork   Source = "network"
)

// Config controls trigger behaviour. Zero values fall back to defaults.
type Config struct {
	Enabled             bool
	Debounce            time.Duration // quiet period before a fix fires
	Cooldown            time.Duration // minimum gap between two fixes
	MinErrorsToTrigger  int
	MaxAttemptsPerError int
	Sources             map[Source]bool
}

// DefaultConfig returns the stock trigger configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Debounce:            2 * time.Second,
		Cooldown:            10 * time.Second,
		MinErrorsToTrigger:  1,
		MaxAttemptsPerError: 3,
		Sources: map[Source]bool{
			SourceBuild:     true,
			SourceRuntime:   true,
			SourceBackend:   true,
			SourceContainer: true,
			SourceNetwork:   false,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.MinErrorsToTrigger <= 0 {
		c.MinErrorsToTrigger = 1
	}
	if c.MaxAttemptsPerError <= 0 {
		c.MaxAttemptsPerError = 3
	}
	if c.Sources == nil {
		c.Sources = DefaultConfig().Sources
	}
}

// AttemptRecord tracks retry history for one error fingerprint.
type AttemptRecord struct {
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	Fixed       bool      `json:"fixed"`
}

// FixResult is what the external repair agent reports back.
type FixResult struct {
	Success       bool
	FilesModified []string
	Patch         string // unified diff, when the agent fixed via patch
	Detail        string
}

// FixCallback invokes the external repair agent. It is treated as opaque:
// it may call a model or apply a deterministic command.
type FixCallback func(jobID string, payload *execctx.FixerPayload) (*FixResult, error)

// PayloadFunc supplies the failure snapshot at the moment a fix fires.
type PayloadFunc func() *execctx.FixerPayload

// report is one buffered error awaiting a fix.
type report struct {
	source Source
	err    *classify.ClassifiedError
}

// Fixer is the per-job auto-fix controller. Cross-job state is never
// shared; construct one per job and Stop it at job teardown.
type Fixer struct {
	mu sync.Mutex

	jobID   string
	cfg     Config
	payload PayloadFunc

	pending  map[string]report         // fingerprint → latest report
	attempts map[string]*AttemptRecord // fingerprint → history

	fixing      bool
	lastFixTime time.Time
	debounce    *time.Timer

	// OnFixApplied and OnFixFailed are invoked after a fix attempt
	// completes, outside the controller's mutex.
	OnFixApplied func(jobID string, result *FixResult)
	OnFixFailed  func(jobID string, err error)
}

// New creates a Fixer for one job.
func New(jobID string, cfg Config, payload PayloadFunc) *Fixer {
	cfg.applyDefaults()
	return &Fixer{
		jobID:    jobID,
		cfg:      cfg,
		payload:  payload,
		pending:  make(map[string]report),
		attempts: make(map[string]*AttemptRecord),
	}
}

// Fingerprint derives the stable retry-history key for an error: message
// prefix plus extracted file and line.
func Fingerprint(e *classify.ClassifiedError) string {
	prefix := e.Message
	if len(prefix) > 80 {
		prefix = prefix[:80]
	}
	return fmt.Sprintf("%s|%s|%d", prefix, e.File, e.Line)
}

// ReportError buffers a classified error. Reporting never triggers a fix by
// itself; call CheckAndTrigger afterwards.
func (f *Fixer) ReportError(source Source, e *classify.ClassifiedError) {
	if e == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[Fingerprint(e)] = report{source: source, err: e}
}

// eligible returns the fingerprints that may participate in a fix: enabled
// source, not yet fixed, attempt cap not reached. Caller holds the mutex.
func (f *Fixer) eligible() []string {
	var fps []string
	for fp, r := range f.pending {
		if !f.cfg.Sources[r.source] {
			continue
		}
		if rec := f.attempts[fp]; rec != nil && (rec.Fixed || rec.Attempts >= f.cfg.MaxAttemptsPerError) {
			continue
		}
		fps = append(fps, fp)
	}
	return fps
}

// CheckAndTrigger evaluates the trigger condition and (re)schedules the
// debounced fix. A new qualifying call while a timer is pending cancels and
// reschedules it: the debounce resets on new information, trading fixing
// speed for complete context.
func (f *Fixer) CheckAndTrigger(cb FixCallback) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.cfg.Enabled || f.fixing {
		return false
	}
	if f.cfg.Cooldown > 0 && !f.lastFixTime.IsZero() && time.Since(f.lastFixTime) < f.cfg.Cooldown {
		return false
	}
	if len(f.eligible()) < f.cfg.MinErrorsToTrigger {
		return false
	}

	if f.debounce != nil {
		f.debounce.Stop()
	}
	f.debounce = time.AfterFunc(f.cfg.Debounce, func() {
		f.executeFix(cb)
	})
	return true
}

// executeFix runs one repair attempt. The fixing flag is held for the full
// duration so CheckAndTrigger cannot reenter; errors arriving meanwhile are
// buffered for the next check.
func (f *Fixer) executeFix(cb FixCallback) {
	f.mu.Lock()
	if f.fixing {
		f.mu.Unlock()
		return
	}
	fps := f.eligible()
	if len(fps) < f.cfg.MinErrorsToTrigger {
		f.mu.Unlock()
		return
	}
	f.fixing = true
	now := time.Now()
	for _, fp := range fps {
		rec := f.attempts[fp]
		if rec == nil {
			rec = &AttemptRecord{}
			f.attempts[fp] = rec
		}
		rec.Attempts++
		rec.LastAttempt = now
	}
	payload := f.payload()
	f.mu.Unlock()

	result, err := f.invoke(cb, payload)

	f.mu.Lock()
	f.lastFixTime = time.Now()
	f.fixing = false
	success := err == nil && result != nil && result.Success
	if success {
		// A later unrelated failure starts history fresh.
		f.pending = make(map[string]report)
		for _, fp := range fps {
			f.attempts[fp].Fixed = true
		}
	}
	f.mu.Unlock()

	if success {
		if f.OnFixApplied != nil {
			f.OnFixApplied(f.jobID, result)
		}
		return
	}
	if err == nil {
		err = fmt.Errorf("repair agent reported failure")
		if result != nil && result.Detail != "" {
			err = fmt.Errorf("repair agent reported failure: %s", result.Detail)
		}
	}
	if f.OnFixFailed != nil {
		f.OnFixFailed(f.jobID, err)
	}
}

// invoke calls the repair agent, converting a panic into a failed-fix error
// so a broken agent can never crash the controller.
func (f *Fixer) invoke(cb FixCallback, payload *execctx.FixerPayload) (result *FixResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("repair agent panicked: %v", r)
		}
	}()
	return cb(f.jobID, payload)
}

// ResetAttempts clears retry history for one fingerprint, or for all when
// fingerprint is empty. Used when a human edits the offending file and the
// stale history no longer applies.
func (f *Fixer) ResetAttempts(fingerprint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fingerprint == "" {
		f.attempts = make(map[string]*AttemptRecord)
		return
	}
	delete(f.attempts, fingerprint)
}

// ClearErrors drops all buffered error reports without touching history.
func (f *Fixer) ClearErrors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = make(map[string]report)
}

// Attempts returns a copy of the attempt record for a fingerprint, or nil.
func (f *Fixer) Attempts(fingerprint string) *AttemptRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.attempts[fingerprint]
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}

// PendingCount returns how many distinct errors are buffered.
func (f *Fixer) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Fixing reports whether a repair attempt is currently running.
func (f *Fixer) Fixing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fixing
}

// Stop cancels any pending debounce timer. Call at job teardown so no
// orphaned timer fires after the controller is gone.
func (f *Fixer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debounce != nil {
		f.debounce.Stop()
		f.debounce = nil
	}
}
