// Package deploy drives the container engine: compose bring-up for stack
// directories and lifecycle actions on individual containers.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/process"
)

// composeUpArgs recreate every service and drop containers no longer in the file.
var composeUpArgs = []string{"compose", "up", "-d", "--build", "--force-recreate", "--remove-orphans"}

// Engine wraps the container engine CLI.
type Engine struct {
	binary        string
	timeout       time.Duration
	deployTimeout time.Duration
	runner        process.Runner
	recorder      *events.Recorder
	logger        *slog.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Binary        string
	Timeout       time.Duration // list and container actions
	DeployTimeout time.Duration // compose up
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions, runner process.Runner, recorder *events.Recorder, logger *slog.Logger) *Engine {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		binary:        opts.Binary,
		timeout:       opts.Timeout,
		deployTimeout: opts.DeployTimeout,
		runner:        runner,
		recorder:      recorder,
		logger:        logger,
	}
}

// List returns every container, running or not.
func (e *Engine) List(ctx context.Context) ([]*domain.Container, error) {
	res, err := process.RunWithTimeout(ctx, e.runner, e.timeout, process.Command{
		Name: e.binary,
		Args: []string{"container", "ls", "-a", "--no-trunc", "--format", "{{json .}}"},
	})
	if err != nil {
		return nil, err
	}
	return ParseContainers(res.Stdout)
}

// ParseContainers decodes the engine's one-JSON-object-per-line listing.
func ParseContainers(out string) ([]*domain.Container, error) {
	containers := []*domain.Container{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var c domain.Container
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("parsing container listing: %w", err)
		}
		containers = append(containers, &c)
	}
	return containers, nil
}

// Act applies a lifecycle action to one container and records the outcome.
func (e *Engine) Act(ctx context.Context, action domain.ContainerAction, ref string) error {
	verb := string(action)
	if action == domain.ActionRemove {
		verb = "rm"
	}
	_, err := process.RunWithTimeout(ctx, e.runner, e.timeout, process.Command{
		Name: e.binary,
		Args: []string{verb, ref},
	})
	if err != nil {
		e.logger.Warn("Container action failed", "action", action, "container", ref, "error", err)
		e.recorder.Error(ctx, fmt.Sprintf("Failed to %s container %s: %s", action, ref, domain.ErrorDetail(err)), "")
		return err
	}
	e.logger.Info("Container action applied", "action", action, "container", ref)
	e.recorder.Success(ctx, fmt.Sprintf("Container %s %s", ref, action.PastTense()), "")
	return nil
}

// Stop stops a container.
func (e *Engine) Stop(ctx context.Context, ref string) error {
	return e.Act(ctx, domain.ActionStop, ref)
}

// Kill kills a container.
func (e *Engine) Kill(ctx context.Context, ref string) error {
	return e.Act(ctx, domain.ActionKill, ref)
}

// Restart restarts a container.
func (e *Engine) Restart(ctx context.Context, ref string) error {
	return e.Act(ctx, domain.ActionRestart, ref)
}

// Remove removes a stopped container.
func (e *Engine) Remove(ctx context.Context, ref string) error {
	return e.Act(ctx, domain.ActionRemove, ref)
}

// ComposeUp brings up the compose project in dir. It records nothing;
// the Executor owns deployment events.
func (e *Engine) ComposeUp(ctx context.Context, dir string) (*process.Result, error) {
	return process.RunWithTimeout(ctx, e.runner, e.deployTimeout, process.Command{
		Name: e.binary,
		Args: composeUpArgs,
		Dir:  dir,
	})
}
