// Package process runs external commands and classifies how they ended.
package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/metrics"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string // working directory; empty means the current one
}

// String renders the command the way it appears in logs and events.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the output of a command that exited zero.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes are drained after the
	// process is killed on context cancellation.
	WaitDelay time.Duration
}

// Ensure ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 5 * time.Second}
}

// Run starts the command and waits for it. A non-zero exit yields a
// *domain.ProcessError; a binary that cannot be launched yields a
// *domain.SpawnError. There are no retries at this layer.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.ObserveProcess(c.Name, "spawn_error", time.Since(start))
		return nil, &domain.SpawnError{Command: c.String(), Err: err}
	}

	err := cmd.Wait()
	elapsed := time.Since(start)
	if err == nil {
		metrics.ObserveProcess(c.Name, "ok", elapsed)
		return &Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	perr := &domain.ProcessError{
		Command:  c.String(),
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		perr.TimedOut = true
		metrics.ObserveProcess(c.Name, "timeout", elapsed)
		return nil, perr
	}
	metrics.ObserveProcess(c.Name, "failed", elapsed)
	return nil, perr
}

// RunWithTimeout wraps Run in a per-call deadline. A zero timeout means no deadline.
func RunWithTimeout(ctx context.Context, r Runner, timeout time.Duration, c Command) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return r.Run(ctx, c)
}
