package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/metrics"
	"github.com/bcnelson/sid/internal/notify"
	"golang.org/x/sync/errgroup"
)

// Invalidator marks rendered dashboard state stale.
type Invalidator interface {
	Invalidate()
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func()

// Invalidate implements Invalidator.
func (f InvalidatorFunc) Invalidate() { f() }

type nopInvalidator struct{}

func (nopInvalidator) Invalidate() {}

// Outcome is the result of bringing up one directory.
type Outcome struct {
	Directory string
	Stack     string
	Output    string
	Err       error
}

// OK reports whether the deployment succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Result converts the outcome to its API form.
func (o Outcome) Result() domain.DeployResult {
	r := domain.DeployResult{
		Directory: o.Directory,
		Stack:     o.Stack,
		Success:   o.Err == nil,
		Output:    o.Output,
	}
	if o.Err != nil {
		r.Error = domain.ErrorDetail(o.Err)
	}
	return r
}

// Executor deploys directories below a mirror root.
type Executor struct {
	engine      *Engine
	root        string
	concurrency int
	recorder    *events.Recorder
	sink        notify.Sink
	invalidator Invalidator
	logger      *slog.Logger
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Root        string // mirror root; event stack keys are relative to it
	Concurrency int    // 0 runs every directory at once
	Sink        notify.Sink
	Invalidator Invalidator
	Logger      *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(engine *Engine, recorder *events.Recorder, opts ExecutorOptions) *Executor {
	if opts.Sink == nil {
		opts.Sink = notify.Nop{}
	}
	if opts.Invalidator == nil {
		opts.Invalidator = nopInvalidator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		engine:      engine,
		root:        opts.Root,
		concurrency: opts.Concurrency,
		recorder:    recorder,
		sink:        opts.Sink,
		invalidator: opts.Invalidator,
		logger:      opts.Logger,
	}
}

// Deploy brings up every directory concurrently and returns exactly one
// outcome per input directory, in input order. A failing directory never
// cancels or blocks the others. The dashboard is invalidated once the
// whole batch has finished, whatever the results.
func (x *Executor) Deploy(ctx context.Context, dirs []string) []Outcome {
	defer x.invalidator.Invalidate()

	outcomes := make([]Outcome, len(dirs))
	var g errgroup.Group
	if x.concurrency > 0 {
		g.SetLimit(x.concurrency)
	}
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			outcomes[i] = x.deploy(ctx, dir)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	x.logger.Info("Deployment batch finished", "directories", len(dirs), "failed", failed)
	return outcomes
}

// DeployOne brings up a single directory.
func (x *Executor) DeployOne(ctx context.Context, dir string) Outcome {
	return x.Deploy(ctx, []string{dir})[0]
}

func (x *Executor) deploy(ctx context.Context, dir string) Outcome {
	stack := x.StackKey(dir)
	log := x.logger.With("dir", dir, "stack", stack)
	log.Info("Deploying stack")

	res, err := x.engine.ComposeUp(ctx, dir)
	metrics.Deployment(err)

	o := Outcome{Directory: dir, Stack: stack, Err: err}
	if err != nil {
		detail := domain.ErrorDetail(err)
		log.Error("Deployment failed", "error", err)
		x.recorder.Error(ctx, detail, stack)
		x.sink.Notify(fmt.Sprintf("Deployment of %s failed: %s", stack, detail))
		return o
	}

	o.Output = combinedOutput(res.Stdout, res.Stderr)
	log.Info("Deployment succeeded")
	msg := o.Output
	if msg == "" {
		msg = "Deployment completed"
	}
	x.recorder.Success(ctx, msg, stack)
	x.sink.Notify(fmt.Sprintf("Deployment of %s succeeded", stack))
	return o
}

// StackKey returns the first path segment of dir relative to the mirror
// root, which is the stack's name-bearing folder.
func (x *Executor) StackKey(dir string) string {
	rel, err := filepath.Rel(x.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return filepath.Base(dir)
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first
}

// compose writes its progress to stderr; keep both streams for the event.
func combinedOutput(stdout, stderr string) string {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	}
	return stdout + "\n" + stderr
}
