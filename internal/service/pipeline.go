// Package service orchestrates pipeline runs: mirror refresh followed by
// change resolution and deployment, or by discovery and stack upserts.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bcnelson/sid/internal/deploy"
	"github.com/bcnelson/sid/internal/discovery"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/metrics"
	"github.com/bcnelson/sid/internal/mirror"
	"github.com/bcnelson/sid/internal/resolver"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/bcnelson/sid/internal/validation"
	"github.com/google/uuid"
)

// Invalidator marks rendered dashboard state stale.
type Invalidator = deploy.Invalidator

// Pipeline owns every run against the mirror. Runs are serialized by a
// single lock: the mirror is the one shared mutable resource and only one
// run may refresh or read it at a time.
type Pipeline struct {
	store       storage.Storage
	mirror      *mirror.Manager
	resolver    *resolver.Resolver
	executor    *deploy.Executor
	engine      *deploy.Engine
	recorder    *events.Recorder
	invalidator Invalidator
	logger      *slog.Logger
	debounce    time.Duration

	runMu sync.Mutex

	// Background runs share runCtx and are tracked by wg until Shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	closing   chan struct{}

	mu          sync.Mutex
	closed      bool
	syncTimer   *time.Timer
	syncPending bool

	// Pushes waiting for the next background run, merged.
	queuePending bool
	queueRunning bool
	queued       domain.ChangeSet
	queuedSeen   map[string]struct{}
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Store       storage.Storage
	Mirror      *mirror.Manager
	Resolver    *resolver.Resolver
	Executor    *deploy.Executor
	Engine      *deploy.Engine
	Recorder    *events.Recorder
	Invalidator Invalidator
	Logger      *slog.Logger
	Debounce    time.Duration
}

// NewPipeline creates a Pipeline.
func NewPipeline(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Resolver == nil {
		d.Resolver = resolver.New(d.Logger)
	}
	if d.Invalidator == nil {
		d.Invalidator = deploy.InvalidatorFunc(func() {})
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Pipeline{
		runCtx:      runCtx,
		cancelRun:   cancelRun,
		closing:     make(chan struct{}),
		store:       d.Store,
		mirror:      d.Mirror,
		resolver:    d.Resolver,
		executor:    d.Executor,
		engine:      d.Engine,
		recorder:    d.Recorder,
		invalidator: d.Invalidator,
		logger:      d.Logger,
		debounce:    d.Debounce,
	}
}

// HandlePush runs the change-driven pipeline for a forge push.
func (p *Pipeline) HandlePush(ctx context.Context, push *domain.PushEvent) (*domain.RunReport, error) {
	return p.deployChange(ctx, push.ChangeSet())
}

func (p *Pipeline) deployChange(ctx context.Context, cs domain.ChangeSet) (*domain.RunReport, error) {
	report, err := p.HandleChange(ctx, cs)
	if err == nil && touchesComposeFile(cs) {
		// New or moved compose files change the stack list itself.
		p.TriggerSync()
	}
	return report, err
}

// HandleChange refreshes the mirror, resolves the changed paths to stack
// directories and deploys them. Only a failed refresh fails the run;
// individual deployment failures are reported in the result.
func (p *Pipeline) HandleChange(ctx context.Context, cs domain.ChangeSet) (report *domain.RunReport, err error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	defer func() { metrics.PipelineRun(string(domain.RunWebhook), err) }()

	log := p.logger.With("run", domain.RunWebhook)
	log.Info("Change received", "paths", len(cs))

	m, err := p.mirror.EnsureMirror(ctx)
	if err != nil {
		p.invalidator.Invalidate()
		return nil, &RefreshError{Err: err}
	}

	report = &domain.RunReport{Kind: domain.RunWebhook, MirrorPath: m.Path, WasFreshClone: m.WasFreshClone}
	dirs := p.resolver.Resolve(m.Path, cs)
	if len(dirs) == 0 {
		log.Info("No stack directories affected")
		p.recorder.Info(ctx, "Push did not affect any stack", "")
		p.invalidator.Invalidate()
		return report, nil
	}

	for _, o := range p.executor.Deploy(ctx, dirs) {
		report.Stacks = append(report.Stacks, o.Stack)
		report.Deployments = append(report.Deployments, o.Result())
		if !o.OK() {
			report.Failed++
		}
	}
	log.Info("Change deployed", "directories", len(dirs), "failed", report.Failed)
	return report, nil
}

// BringUp deploys one stack from the current mirror contents.
func (p *Pipeline) BringUp(ctx context.Context, stackID string) (result *domain.DeployResult, err error) {
	stack, err := p.store.GetStack(ctx, stackID)
	if err != nil {
		return nil, err
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()
	defer func() { metrics.PipelineRun(string(domain.RunBringUp), err) }()

	if !p.mirror.Ready() {
		return nil, domain.ErrMirrorNotReady
	}
	dir := filepath.Join(p.mirror.Path(), filepath.FromSlash(stack.Dir()))
	p.logger.Info("Bringing up stack", "stack", stack.Name, "dir", dir)

	r := p.executor.DeployOne(ctx, dir).Result()
	return &r, nil
}

// CreateStack records a stack by hand. The compose file is not required
// to exist yet; a later sync fills in its status.
func (p *Pipeline) CreateStack(ctx context.Context, req *domain.CreateStackRequest) (*domain.Stack, error) {
	if err := validation.ValidateCreateStack(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stack := &domain.Stack{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Path:      filepath.ToSlash(filepath.Clean(req.Path)),
		Status:    domain.StackStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateStack(ctx, stack); err != nil {
		return nil, err
	}
	p.recorder.Info(ctx, "Stack created", stack.Name)
	p.invalidator.Invalidate()
	return stack, nil
}

// Containers lists every container known to the engine.
func (p *Pipeline) Containers(ctx context.Context) ([]*domain.Container, error) {
	return p.engine.List(ctx)
}

// ContainerAction applies action to the container identified by ref.
func (p *Pipeline) ContainerAction(ctx context.Context, action domain.ContainerAction, ref string) error {
	if err := validation.ValidateContainerRef(ref); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	err := p.engine.Act(ctx, action, ref)
	p.invalidator.Invalidate()
	return err
}

// MirrorPath is the local path of the mirror.
func (p *Pipeline) MirrorPath() string {
	return p.mirror.Path()
}

func touchesComposeFile(cs domain.ChangeSet) bool {
	for _, path := range cs {
		if domain.IsComposeFile(filepath.Base(path)) {
			return true
		}
	}
	return false
}

// StackDetail loads a stack with its services and recent events. A compose
// file that is missing or unparsable yields an empty service list.
func (p *Pipeline) StackDetail(ctx context.Context, stackID string, eventLimit int) (*domain.StackDetail, error) {
	stack, err := p.store.GetStack(ctx, stackID)
	if err != nil {
		return nil, err
	}
	evs, err := p.store.ListStackEvents(ctx, stack.Name, eventLimit)
	if err != nil {
		return nil, err
	}

	services, err := discovery.ReadServices(filepath.Join(p.mirror.Path(), filepath.FromSlash(stack.Path)))
	if err != nil {
		p.logger.Debug("Cannot read compose services", "stack", stack.Name, "error", err)
		services = []string{}
	}
	if evs == nil {
		evs = []*domain.Event{}
	}
	return &domain.StackDetail{Stack: stack, Services: services, Events: evs}, nil
}
