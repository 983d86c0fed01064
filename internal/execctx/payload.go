package execctx

import (
	"time"

	"github.com/lucasnoah/fixfactory/internal/classify"
)

// Payload tail sizes: stderr is carried in full (already capped), stdout and
// the interleaved stream are truncated to their most recent lines.
const (
	payloadStdoutTail   = 100
	payloadCombinedTail = 200
)

// FixerPayload is the complete, self-contained failure snapshot handed to
// the repair agent. It is the only channel by which failure context leaves
// the execution context — nothing else may smuggle extra state to the agent.
type FixerPayload struct {
	JobID       string      `json:"job_id"`
	OwnerID     string      `json:"owner_id"`
	Command     string      `json:"command"`
	Runtime     RuntimeKind `json:"runtime"`
	WorkDir     string      `json:"work_dir"`
	ContainerID string      `json:"container_id,omitempty"`

	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`

	Stderr   []string `json:"stderr"`
	Stdout   []string `json:"stdout"`   // last 100 lines
	Combined []string `json:"combined"` // last 200 interleaved lines

	Error *classify.ClassifiedError `json:"error,omitempty"`

	FixAttempts    int               `json:"fix_attempts"`
	MaxFixAttempts int               `json:"max_fix_attempts"`
	History        []FixHistoryEntry `json:"history,omitempty"`
}

// FixerPayload snapshots the context for the repair agent.
func (c *Context) FixerPayload() *FixerPayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	exitCode := 0
	if c.exitCode != nil {
		exitCode = *c.exitCode
	}

	end := c.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	var dur time.Duration
	if !c.startedAt.IsZero() {
		dur = end.Sub(c.startedAt)
	}

	p := &FixerPayload{
		JobID:          c.JobID,
		OwnerID:        c.OwnerID,
		Command:        c.Command,
		Runtime:        c.Runtime,
		WorkDir:        c.WorkDir,
		ContainerID:    c.ContainerID,
		ExitCode:       exitCode,
		Duration:       dur,
		Stderr:         copyLines(c.stderr),
		Stdout:         tail(c.stdout, payloadStdoutTail),
		Combined:       tail(c.combined, payloadCombinedTail),
		Error:          c.primaryErr,
		FixAttempts:    c.fixAttempts,
		MaxFixAttempts: c.opts.MaxFixAttempts,
	}
	if len(c.history) > 0 {
		p.History = make([]FixHistoryEntry, len(c.history))
		copy(p.History, c.history)
	}
	return p
}

func copyLines(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func tail(in []string, n int) []string {
	if len(in) > n {
		in = in[len(in)-n:]
	}
	return copyLines(in)
}
