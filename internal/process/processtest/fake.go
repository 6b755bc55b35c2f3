// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/process"
)

// Handler produces the outcome of one faked command.
type Handler func(cmd process.Command) (*process.Result, error)

type rule struct {
	prefix  string
	dir     string
	handler Handler
}

// Runner records every command and answers from registered rules.
// Commands with no matching rule succeed with empty output.
type Runner struct {
	mu    sync.Mutex
	rules []rule
	calls []process.Command
}

// Ensure Runner implements process.Runner.
var _ process.Runner = (*Runner)(nil)

// New returns an empty fake runner.
func New() *Runner {
	return &Runner{}
}

// On registers a handler for commands whose rendered form starts with prefix.
// Later registrations take precedence.
func (r *Runner) On(prefix string, h Handler) *Runner {
	return r.OnDir(prefix, "", h)
}

// OnDir is like On but only matches commands run in dir.
func (r *Runner) OnDir(prefix, dir string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, dir: dir, handler: h})
	return r
}

// Run implements process.Runner.
func (r *Runner) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	var h Handler
	for i := len(r.rules) - 1; i >= 0; i-- {
		rl := r.rules[i]
		if strings.HasPrefix(cmd.String(), rl.prefix) && (rl.dir == "" || rl.dir == cmd.Dir) {
			h = rl.handler
			break
		}
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &domain.ProcessError{Command: cmd.String(), ExitCode: -1, TimedOut: true}
	}
	if h == nil {
		return &process.Result{}, nil
	}
	return h(cmd)
}

// Calls returns a copy of the recorded commands.
func (r *Runner) Calls() []process.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]process.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many recorded commands start with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}

// Succeed answers with the given stdout.
func Succeed(stdout string) Handler {
	return func(process.Command) (*process.Result, error) {
		return &process.Result{Stdout: stdout}, nil
	}
}

// Fail answers with a non-zero exit and stderr.
func Fail(code int, stderr string) Handler {
	return func(c process.Command) (*process.Result, error) {
		return nil, &domain.ProcessError{Command: c.String(), ExitCode: code, Stderr: stderr}
	}
}

// Missing answers as if the binary did not exist.
func Missing() Handler {
	return func(c process.Command) (*process.Result, error) {
		return nil, &domain.SpawnError{Command: c.String(), Err: fmt.Errorf("exec: %q: executable file not found in $PATH", c.Name)}
	}
}
