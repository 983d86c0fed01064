// Package execctx tracks one in-flight build/run command: it buffers output
// lines, classifies the first stderr failure, detects long-running dev
// servers that never exit, and decides whether an automatic fix attempt is
// worth making.
package execctx

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lucasnoah/fixfactory/internal/classify"
)

// State is the lifecycle of an execution context.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
	StateFixing    State = "fixing"
	StateExhausted State = "exhausted"
)

// Default buffer caps: oldest lines are dropped past these.
const (
	DefaultStdoutCap   = 500
	DefaultStderrCap   = 200
	DefaultCombinedCap = 1000

	// DefaultMaxFixAttempts caps retries per context.
	DefaultMaxFixAttempts = 3
)

// RuntimeKind is the toolchain inferred from the command text.
type RuntimeKind string

const (
	RuntimeNode    RuntimeKind = "node"
	RuntimePython  RuntimeKind = "python"
	RuntimeGo      RuntimeKind = "go"
	RuntimeRust    RuntimeKind = "rust"
	RuntimeStatic  RuntimeKind = "static"
	RuntimeUnknown RuntimeKind = "unknown"
)

// serverReadyRes are the signatures of a dev server announcing readiness.
// A match force-transitions the context to success even though the command
// will never exit.
var serverReadyRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ready in \d+\s*m?s`),
	regexp.MustCompile(`(?i)local:\s+https?://`),
	regexp.MustCompile(`(?i)compiled successfully`),
	regexp.MustCompile(`(?i)listening on (?:port )?\S+`),
	regexp.MustCompile(`(?i)server (?:is )?running (?:at|on) \S+`),
	regexp.MustCompile(`(?i)started server on \S+`),
	regexp.MustCompile(`(?i)serving (?:HTTP )?on \S+`),
}

var urlRe = regexp.MustCompile(`https?://[^\s"')]+`)

// Options configures a Context. Zero values fall back to the defaults.
type Options struct {
	StdoutCap      int
	StderrCap      int
	CombinedCap    int
	MaxFixAttempts int
}

// Context is the execution context for a single command run. Buffers are
// append-only until ResetForRetry; state transitions are monotonic except
// for the explicit reset before a retry.
type Context struct {
	mu sync.Mutex

	JobID       string
	OwnerID     string
	Command     string
	Runtime     RuntimeKind
	WorkDir     string
	ContainerID string

	opts Options

	stdout   []string
	stderr   []string
	combined []string

	state     State
	exitCode  *int
	startedAt time.Time
	endedAt   time.Time

	serverDetected bool
	serverURL      string

	primaryErr  *classify.ClassifiedError
	fixAttempts int

	classifier *classify.Classifier
	history    []FixHistoryEntry
}

// FixHistoryEntry summarizes one prior fix attempt for the payload.
type FixHistoryEntry struct {
	Fingerprint string `json:"fingerprint"`
	Category    string `json:"category"`
	Success     bool   `json:"success"`
	Detail      string `json:"detail,omitempty"`
}

// New creates a pending Context for one command.
func New(jobID, ownerID, command, workDir string, cls *classify.Classifier, opts Options) *Context {
	if opts.StdoutCap <= 0 {
		opts.StdoutCap = DefaultStdoutCap
	}
	if opts.StderrCap <= 0 {
		opts.StderrCap = DefaultStderrCap
	}
	if opts.CombinedCap <= 0 {
		opts.CombinedCap = DefaultCombinedCap
	}
	if opts.MaxFixAttempts <= 0 {
		opts.MaxFixAttempts = DefaultMaxFixAttempts
	}
	return &Context{
		JobID:      jobID,
		OwnerID:    ownerID,
		Command:    command,
		Runtime:    DetectRuntime(command),
		WorkDir:    workDir,
		opts:       opts,
		state:      StatePending,
		classifier: cls,
	}
}

// Start transitions Pending→Running and records the start time.
func (c *Context) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePending {
		return
	}
	c.state = StateRunning
	c.startedAt = time.Now()
}

// SetContainer records the sandbox container identity.
func (c *Context) SetContainer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ContainerID = id
}

// AddStdout appends one stdout line.
func (c *Context) AddStdout(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout = appendCapped(c.stdout, line, c.opts.StdoutCap)
	c.combined = appendCapped(c.combined, line, c.opts.CombinedCap)
	c.scanServerReady(line)
}

// AddStderr appends one stderr line and, if no primary error is set yet,
// classifies it. First match wins: later stderr lines are buffered but not
// re-classified.
func (c *Context) AddStderr(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderr = appendCapped(c.stderr, line, c.opts.StderrCap)
	c.combined = appendCapped(c.combined, line, c.opts.CombinedCap)

	if c.primaryErr == nil && c.classifier != nil && c.classifier.Matches(line) {
		c.primaryErr = c.classifier.Classify(line)
	}
	c.scanServerReady(line)
}

// scanServerReady checks a line against the dev-server signatures.
// Caller holds the mutex.
func (c *Context) scanServerReady(line string) {
	if !c.serverDetected {
		for _, re := range serverReadyRes {
			if re.MatchString(line) {
				c.serverDetected = true
				c.state = StateSuccess
				if c.endedAt.IsZero() {
					c.endedAt = time.Now()
				}
				break
			}
		}
	}
	if c.serverDetected && c.serverURL == "" {
		if m := urlRe.FindString(line); m != "" {
			c.serverURL = m
		}
	}
}

// Complete records the exit code and sets the terminal state: success when
// the exit code is zero or a server was already detected, failed otherwise.
func (c *Context) Complete(exitCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := exitCode
	c.exitCode = &code
	c.endedAt = time.Now()
	if exitCode == 0 || c.serverDetected {
		c.state = StateSuccess
	} else {
		c.state = StateFailed
	}
}

// ShouldAttemptFix is the single gate the auto-fixer honors: the run must
// have failed with a known non-zero exit code, produced some output, and
// still have fix attempts left.
func (c *Context) ShouldAttemptFix() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSuccess || c.serverDetected {
		return false
	}
	if c.fixAttempts >= c.opts.MaxFixAttempts {
		return false
	}
	if c.exitCode == nil || *c.exitCode == 0 {
		return false
	}
	return len(c.stdout) > 0 || len(c.stderr) > 0
}

// MarkFixing transitions a failed context into the fixing state and bumps
// the attempt counter.
func (c *Context) MarkFixing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFixing
	c.fixAttempts++
}

// MarkExhausted marks the context terminally exhausted. Distinct from
// failed so callers stop retrying and escalate.
func (c *Context) MarkExhausted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateExhausted
}

// RecordFixOutcome appends to the fix history carried in later payloads.
func (c *Context) RecordFixOutcome(e FixHistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, e)
}

// ResetForRetry clears buffers, the exit code, the server flags, and the
// primary error, then transitions back to Running. The fix-attempt counter
// and history survive the reset.
func (c *Context) ResetForRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout = nil
	c.stderr = nil
	c.combined = nil
	c.exitCode = nil
	c.serverDetected = false
	c.serverURL = ""
	c.primaryErr = nil
	c.state = StateRunning
	c.startedAt = time.Now()
	c.endedAt = time.Time{}
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerURL returns the detected dev-server URL, or "".
func (c *Context) ServerURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverURL
}

// ServerDetected reports whether a dev-server ready signature was seen.
func (c *Context) ServerDetected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverDetected
}

// ExitCode returns the recorded exit code, or (0, false) when the command
// has not exited.
func (c *Context) ExitCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitCode == nil {
		return 0, false
	}
	return *c.exitCode, true
}

// PrimaryError returns the single classified error, or nil.
func (c *Context) PrimaryError() *classify.ClassifiedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryErr
}

// MaxFixAttempts returns the effective attempt cap after defaulting.
func (c *Context) MaxFixAttempts() int {
	return c.opts.MaxFixAttempts
}

// FixAttempts returns the attempts used so far.
func (c *Context) FixAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fixAttempts
}

// Stderr returns a copy of the buffered stderr lines.
func (c *Context) Stderr() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.stderr))
	copy(out, c.stderr)
	return out
}

func appendCapped(buf []string, line string, max int) []string {
	buf = append(buf, line)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// DetectRuntime infers the toolchain from the command text.
func DetectRuntime(command string) RuntimeKind {
	cmd := strings.ToLower(command)
	switch {
	case containsAny(cmd, "npm ", "npx ", "yarn ", "pnpm ", "node ", "vite", "next "):
		return RuntimeNode
	case containsAny(cmd, "python", "pip ", "pip3 ", "uvicorn", "gunicorn", "pytest", "flask "):
		return RuntimePython
	case containsAny(cmd, "cargo ", "rustc "):
		return RuntimeRust
	// Whole-word match: "go" is a substring of "cargo", "django", etc.
	case hasWord(cmd, "go"):
		return RuntimeGo
	case containsAny(cmd, "http-server", "serve ", "nginx"):
		return RuntimeStatic
	default:
		return RuntimeUnknown
	}
}

// hasWord reports whether w appears as a whole shell word in s.
func hasWord(s, w string) bool {
	for _, f := range strings.Fields(s) {
		if f == w {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
