// Package job ties the execution context, classifier, auto-fixer, and diff
// engine together for one sandboxed command: it consumes output/exit events
// from the sandbox, decides when to attempt a repair, applies the repair's
// result to the sandbox filesystem, and drives the retry loop.
package job

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/fixfactory/internal/autofix"
	"github.com/lucasnoah/fixfactory/internal/classify"
	"github.com/lucasnoah/fixfactory/internal/config"
	"github.com/lucasnoah/fixfactory/internal/db"
	"github.com/lucasnoah/fixfactory/internal/diffapply"
	"github.com/lucasnoah/fixfactory/internal/execctx"
)

// FileStore abstracts the sandbox filesystem the fixer edits. Paths are
// relative to the job's working directory unless absolute.
type FileStore interface {
	Read(path string) (string, error)
	Write(path, content string) error
}

// CommandRunner executes a shell command inside the sandbox and returns its
// exit code.
type CommandRunner func(command string) (int, error)

// RepairFunc asks the external repair agent for a fix. It receives the full
// failure snapshot and returns either a unified-diff patch, a list of files
// it already modified, or a failure.
type RepairFunc func(payload *execctx.FixerPayload) (*autofix.FixResult, error)

// RestartFunc relaunches the job command after a successful fix.
type RestartFunc func() error

// Deps carries the external collaborators of a Controller. Files and Run
// are required when deterministic fixes are enabled; Repair is required for
// model-tier errors. Events and Progress may be nil.
type Deps struct {
	Files    FileStore
	Run      CommandRunner
	Repair   RepairFunc
	Restart  RestartFunc
	Events   *db.DB
	Progress io.Writer
}

// Controller manages the fix/retry lifecycle of one job command.
type Controller struct {
	ID      string
	OwnerID string
	Command string
	WorkDir string

	cfg  *config.Config
	deps Deps

	classifier *classify.Classifier
	exec       *execctx.Context
	fixer      *autofix.Fixer

	startedAt time.Time
	reported  bool // primary error already handed to the fixer this run
}

// New creates a Controller for one command. The job ID is generated.
func New(ownerID, command, workDir string, cfg *config.Config, deps Deps) *Controller {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cls := classify.New()
	id := uuid.NewString()

	exec := execctx.New(id, ownerID, command, workDir, cls, execctx.Options{
		StdoutCap:      cfg.Buffers.StdoutLines,
		StderrCap:      cfg.Buffers.StderrLines,
		CombinedCap:    cfg.Buffers.CombinedLines,
		MaxFixAttempts: cfg.Fixer.MaxAttemptsPerError,
	})

	c := &Controller{
		ID:         id,
		OwnerID:    ownerID,
		Command:    command,
		WorkDir:    workDir,
		cfg:        cfg,
		deps:       deps,
		classifier: cls,
		exec:       exec,
	}
	c.fixer = autofix.New(id, fixerConfig(cfg), exec.FixerPayload)
	return c
}

// fixerConfig maps the YAML fixer section onto the trigger config.
func fixerConfig(cfg *config.Config) autofix.Config {
	f := cfg.Fixer
	out := autofix.Config{
		Enabled:             cfg.FixerEnabled(),
		Debounce:            time.Duration(f.DebounceSeconds * float64(time.Second)),
		Cooldown:            time.Duration(f.CooldownSeconds * float64(time.Second)),
		MinErrorsToTrigger:  f.MinErrorsToTrigger,
		MaxAttemptsPerError: f.MaxAttemptsPerError,
	}
	if len(f.Sources) > 0 {
		out.Sources = make(map[autofix.Source]bool, len(f.Sources))
		for _, s := range f.Sources {
			out.Sources[autofix.Source(s)] = true
		}
	}
	return out
}

// logf prints a progress line if a progress writer is configured.
func (c *Controller) logf(format string, args ...interface{}) {
	if c.deps.Progress != nil {
		fmt.Fprintf(c.deps.Progress, "  → "+format+"\n", args...)
	}
}

// Start marks the command as running.
func (c *Controller) Start() {
	c.startedAt = time.Now()
	c.exec.Start()
	c.logEvent("job_start", c.Command)
	c.logf("job %s: running %q", c.ID, c.Command)
}

// SetContainer records the sandbox container identity.
func (c *Controller) SetContainer(id string) {
	c.exec.SetContainer(id)
}

// HandleLine feeds one output line from the sandbox. Stderr lines may
// classify a primary error; classified errors are reported to the fixer.
func (c *Controller) HandleLine(line string, isStderr bool) {
	if isStderr {
		c.exec.AddStderr(line)
	} else {
		c.exec.AddStdout(line)
	}

	if c.reported {
		return
	}
	if e := c.exec.PrimaryError(); e != nil {
		c.reported = true
		src := autofix.SourceBuild
		if c.exec.ServerDetected() {
			src = autofix.SourceRuntime
		}
		c.logf("classified %s error (%s tier): %s", e.Category, e.Tier, e.Message)
		c.fixer.ReportError(src, e)
		// Build failures wait for the exit event; a live server never
		// exits, so runtime errors trigger the debounce directly.
		if c.exec.ServerDetected() {
			c.fixer.CheckAndTrigger(c.fixCallback)
		}
	}
}

// ReportExternal feeds an error observed outside the command's own streams,
// e.g. a backend log scraper or container health monitor. The text is run
// through the classifier before reporting.
func (c *Controller) ReportExternal(source autofix.Source, text string) {
	e := c.classifier.Classify(text)
	c.fixer.ReportError(source, e)
	c.fixer.CheckAndTrigger(c.fixCallback)
}

// HandleExit records the command's exit. A failing exit that the context
// deems fixable re-arms the fixer; anything else settles the terminal state.
func (c *Controller) HandleExit(code int) {
	c.exec.Complete(code)
	c.logCommandRun(code)

	if code == 0 || c.exec.ServerDetected() {
		c.logf("job %s: completed (exit %d)", c.ID, code)
		c.logEvent("job_complete", fmt.Sprintf("exit=%d", code))
		return
	}

	if !c.exec.ShouldAttemptFix() {
		if c.exec.FixAttempts() >= c.exec.MaxFixAttempts() {
			c.exec.MarkExhausted()
			c.logf("job %s: fix attempts exhausted", c.ID)
			c.logEvent("fix_exhausted", "")
		} else {
			c.logf("job %s: failed (exit %d), not fixable", c.ID, code)
			c.logEvent("job_failed", fmt.Sprintf("exit=%d", code))
		}
		return
	}

	if !c.reported {
		e := c.exec.PrimaryError()
		if e == nil {
			// Nothing matched a rule line-by-line; classify the stderr
			// tail as a whole so the failure still reaches the fixer.
			e = c.classifier.Classify(strings.Join(c.exec.Stderr(), "\n"))
		}
		c.reported = true
		c.fixer.ReportError(autofix.SourceBuild, e)
	}
	c.fixer.CheckAndTrigger(c.fixCallback)
}

// fixCallback is invoked by the fixer once the debounce window closes. It
// routes deterministic fixes to the sandbox directly and everything else to
// the repair agent, then applies whatever came back.
func (c *Controller) fixCallback(jobID string, payload *execctx.FixerPayload) (*autofix.FixResult, error) {
	c.exec.MarkFixing()
	start := time.Now()
	c.logf("fix attempt %d/%d", payload.FixAttempts+1, payload.MaxFixAttempts)

	result, err := c.runFix(payload)

	success := err == nil && result != nil && result.Success
	entry := execctx.FixHistoryEntry{
		Success: success,
	}
	if payload.Error != nil {
		entry.Fingerprint = autofix.Fingerprint(payload.Error)
		entry.Category = string(payload.Error.Category)
	}
	if err != nil {
		entry.Detail = err.Error()
	} else if result != nil {
		entry.Detail = result.Detail
	}
	c.exec.RecordFixOutcome(entry)
	c.logFixAttempt(payload, entry, time.Since(start))

	if !success {
		if err == nil {
			err = errors.New("fix reported failure")
		}
		c.logf("fix failed: %v", err)
		return result, err
	}

	c.logf("fix applied (%d files), retrying", len(result.FilesModified))
	c.reported = false
	c.exec.ResetForRetry()
	if c.deps.Restart != nil {
		if rerr := c.deps.Restart(); rerr != nil {
			return result, fmt.Errorf("restart after fix: %w", rerr)
		}
	}
	return result, nil
}

// runFix performs one repair: deterministic command/file fixes locally,
// everything else through the repair agent, patches through the diff engine.
func (c *Controller) runFix(payload *execctx.FixerPayload) (*autofix.FixResult, error) {
	e := payload.Error
	if e != nil && e.Deterministic() {
		return c.runDeterministicFix(e)
	}

	if c.deps.Repair == nil {
		return nil, errors.New("no repair agent configured")
	}
	result, err := c.deps.Repair(payload)
	if err != nil {
		return nil, fmt.Errorf("repair agent: %w", err)
	}
	if result == nil {
		return nil, errors.New("repair agent returned nothing")
	}
	if result.Patch != "" {
		files, perr := c.applyPatch(result.Patch)
		if perr != nil {
			return nil, fmt.Errorf("apply patch: %w", perr)
		}
		result.Success = true
		result.FilesModified = append(result.FilesModified, files...)
	}
	return result, nil
}

// runDeterministicFix executes a rule-synthesized fix without touching the
// repair agent.
func (c *Controller) runDeterministicFix(e *classify.ClassifiedError) (*autofix.FixResult, error) {
	switch {
	case e.FixCommand != "":
		if c.deps.Run == nil {
			return nil, errors.New("no command runner configured")
		}
		c.logf("running fix command: %s", e.FixCommand)
		code, err := c.deps.Run(e.FixCommand)
		if err != nil {
			return nil, fmt.Errorf("fix command: %w", err)
		}
		if code != 0 {
			return nil, fmt.Errorf("fix command exited %d", code)
		}
		return &autofix.FixResult{Success: true, Detail: e.FixCommand}, nil

	case e.FixPath != "":
		if c.deps.Files == nil {
			return nil, errors.New("no file store configured")
		}
		path := c.resolvePath(e.FixPath)
		c.logf("writing fix file: %s", e.FixPath)
		if err := c.deps.Files.Write(path, e.FixContent); err != nil {
			return nil, fmt.Errorf("write fix file: %w", err)
		}
		return &autofix.FixResult{Success: true, FilesModified: []string{e.FixPath}, Detail: "wrote " + e.FixPath}, nil
	}
	return nil, errors.New("deterministic error carries no fix")
}

// applyPatch parses a unified diff, applies it against the current file
// content, and installs the result. Nothing is written unless every hunk
// applies.
func (c *Controller) applyPatch(patch string) ([]string, error) {
	if c.deps.Files == nil {
		return nil, errors.New("no file store configured")
	}
	d := diffapply.Parse(patch)
	if !d.Valid {
		return nil, fmt.Errorf("invalid diff: %s", d.Reason)
	}
	rel := d.FilePath()
	if rel == "" {
		return nil, errors.New("diff names no file")
	}
	path := c.resolvePath(rel)

	var original string
	if d.OldPath != "/dev/null" {
		var err error
		original, err = c.deps.Files.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
	}

	applied, err := diffapply.Apply(original, d)
	if err != nil {
		return nil, err
	}
	if err := c.deps.Files.Write(path, applied.Content); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	return []string{rel}, nil
}

func (c *Controller) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.WorkDir == "" {
		return p
	}
	return filepath.Join(c.WorkDir, p)
}

// State reports the execution context's lifecycle state.
func (c *Controller) State() execctx.State {
	return c.exec.State()
}

// ServerURL reports the detected dev-server URL, if any.
func (c *Controller) ServerURL() string {
	return c.exec.ServerURL()
}

// Exec exposes the underlying execution context.
func (c *Controller) Exec() *execctx.Context {
	return c.exec
}

// Fixer exposes the underlying auto-fix controller.
func (c *Controller) Fixer() *autofix.Fixer {
	return c.fixer
}

// Stop cancels any pending debounce timer. Call at job teardown.
func (c *Controller) Stop() {
	c.fixer.Stop()
	c.logEvent("job_stop", "")
}

func (c *Controller) logEvent(event, detail string) {
	if c.deps.Events == nil {
		return
	}
	if err := c.deps.Events.LogJobEvent(c.ID, event, detail); err != nil {
		c.logf("event log: %v", err)
	}
}

func (c *Controller) logCommandRun(code int) {
	if c.deps.Events == nil {
		return
	}
	category := ""
	if e := c.exec.PrimaryError(); e != nil {
		category = string(e.Category)
	}
	durMs := int(time.Since(c.startedAt) / time.Millisecond)
	exit := code
	if err := c.deps.Events.LogCommandRun(c.ID, c.Command, string(c.exec.Runtime), string(c.exec.State()), &exit, durMs, c.exec.ServerURL(), category); err != nil {
		c.logf("event log: %v", err)
	}
}

func (c *Controller) logFixAttempt(payload *execctx.FixerPayload, entry execctx.FixHistoryEntry, dur time.Duration) {
	if c.deps.Events == nil {
		return
	}
	category, tier := "", ""
	if payload.Error != nil {
		category = string(payload.Error.Category)
		tier = string(payload.Error.Tier)
	}
	if err := c.deps.Events.LogFixAttempt(c.ID, entry.Fingerprint, category, tier, payload.FixAttempts+1, entry.Success, int(dur/time.Millisecond), entry.Detail); err != nil {
		c.logf("event log: %v", err)
	}
}
