package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bcnelson/sid/internal/discovery"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// TriggerSync schedules a debounced stack refresh from the current mirror
// contents. Multiple triggers within the debounce period result in a
// single refresh. The mirror itself is not pulled.
func (p *Pipeline) TriggerSync() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if p.syncTimer != nil {
		p.syncTimer.Stop()
	}

	p.syncPending = true
	p.syncTimer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		p.syncPending = false
		p.mu.Unlock()

		err := p.Go(func(ctx context.Context) {
			if _, err := p.RefreshStacks(ctx); err != nil {
				p.logger.Warn("Debounced stack refresh failed", "error", err)
			}
		})
		if err != nil {
			p.logger.Debug("Dropping debounced stack refresh", "error", err)
		}
	})
}

// SyncPending reports whether a debounced refresh is scheduled.
func (p *Pipeline) SyncPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncPending
}

// Stop cancels any pending debounced refresh.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
}

func (p *Pipeline) stopTimerLocked() {
	if p.syncTimer != nil {
		p.syncTimer.Stop()
	}
	p.syncPending = false
}

// SyncFromSource refreshes the mirror and then upserts a stack for every
// compose file found in it.
func (p *Pipeline) SyncFromSource(ctx context.Context) (*domain.RunReport, error) {
	p.Stop()

	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.syncLocked(ctx, domain.RunSync)
}

// RefreshStacks re-runs discovery against the existing mirror without
// pulling. It is a no-op until the mirror has been cloned.
func (p *Pipeline) RefreshStacks(ctx context.Context) (*domain.RunReport, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.mirror.Ready() {
		return nil, domain.ErrMirrorNotReady
	}
	report := &domain.RunReport{Kind: domain.RunSync, MirrorPath: p.mirror.Path()}
	err := p.upsertDiscovered(ctx, report)
	p.invalidator.Invalidate()
	return report, err
}

// syncLocked must be called with runMu held.
func (p *Pipeline) syncLocked(ctx context.Context, kind domain.RunKind) (report *domain.RunReport, err error) {
	defer func() { metrics.PipelineRun(string(kind), err) }()
	defer p.invalidator.Invalidate()

	m, err := p.mirror.EnsureMirror(ctx)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	report = &domain.RunReport{Kind: kind, MirrorPath: m.Path, WasFreshClone: m.WasFreshClone}
	return report, p.upsertDiscovered(ctx, report)
}

func (p *Pipeline) upsertDiscovered(ctx context.Context, report *domain.RunReport) error {
	files, err := discovery.NewWalker(report.MirrorPath, p.logger).FindAll(ctx)
	if err != nil {
		p.recorder.Error(ctx, fmt.Sprintf("Stack discovery failed: %v", err), "")
		return fmt.Errorf("discovering stacks: %w", err)
	}

	var errs error
	created := 0
	for _, file := range files {
		name := discovery.StackName(file)
		rel, err := filepath.Rel(report.MirrorPath, file)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if filepath.Dir(rel) == "." {
			// A compose file at the repository root has no stack directory.
			p.logger.Debug("Ignoring root-level compose file", "path", rel)
			continue
		}

		now := time.Now().UTC()
		stack := &domain.Stack{
			ID:        uuid.New().String(),
			Name:      name,
			Path:      filepath.ToSlash(rel),
			Status:    domain.StackStatusSynced,
			CreatedAt: now,
			UpdatedAt: now,
		}
		isNew, err := p.store.UpsertStack(ctx, stack)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upserting stack %s: %w", name, err))
			continue
		}
		if isNew {
			created++
			p.recorder.Info(ctx, "Stack discovered at "+stack.Path, name)
		}
		report.Stacks = append(report.Stacks, name)
	}

	p.recorder.Info(ctx, fmt.Sprintf("Synced %d stacks from source (%d new)", len(report.Stacks), created), "")
	if errs != nil {
		for _, e := range multierr.Errors(errs) {
			p.recorder.Error(ctx, e.Error(), "")
		}
		return errs
	}
	return nil
}
