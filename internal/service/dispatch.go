package service

import (
	"context"
	"time"

	"github.com/bcnelson/sid/internal/domain"
)

// killGrace is how long Shutdown waits for cancelled runs to record
// their outcomes once the drain deadline has passed.
const killGrace = 5 * time.Second

// RefreshError wraps a failed mirror refresh. It is the only run failure
// the reconciler retries.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string { return "refreshing mirror: " + e.Err.Error() }

func (e *RefreshError) Unwrap() error { return e.Err }

// Go runs fn in the background as tracked pipeline work. Shutdown waits
// for it. After Shutdown has started Go returns ErrShuttingDown.
func (p *Pipeline) Go(fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrShuttingDown
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.runCtx)
	}()
	return nil
}

// Closing is closed when Shutdown starts.
func (p *Pipeline) Closing() <-chan struct{} {
	return p.closing
}

// Submit queues a change set for a background run. While a queued run has
// not started yet, further submissions are merged into it, so a burst of
// pushes costs one run in flight plus at most one waiting. merged reports
// whether cs joined an already waiting run.
func (p *Pipeline) Submit(cs domain.ChangeSet) (merged bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, domain.ErrShuttingDown
	}

	merged = p.queuePending
	p.queuePending = true
	if p.queuedSeen == nil {
		p.queuedSeen = make(map[string]struct{})
	}
	for _, path := range cs {
		if _, ok := p.queuedSeen[path]; ok {
			continue
		}
		p.queuedSeen[path] = struct{}{}
		p.queued = append(p.queued, path)
	}

	if p.queueRunning {
		return merged, nil
	}
	p.queueRunning = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.drainQueue(p.runCtx)
	}()
	return merged, nil
}

// drainQueue runs queued change sets until none are waiting.
func (p *Pipeline) drainQueue(ctx context.Context) {
	for {
		p.mu.Lock()
		if !p.queuePending {
			p.queueRunning = false
			p.mu.Unlock()
			return
		}
		cs := p.queued
		p.queued = nil
		p.queuedSeen = nil
		p.queuePending = false
		p.mu.Unlock()

		if _, err := p.deployChange(ctx, cs); err != nil {
			p.logger.Error("Webhook pipeline run failed", "error", err)
		}
	}
}

// Shutdown refuses new background work and waits for tracked runs. When
// ctx expires first, in-flight commands are cancelled and their outcomes
// get a short grace period to be recorded.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.closing)
		p.stopTimerLocked()
	}
	p.mu.Unlock()
	defer p.cancelRun()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.logger.Warn("Cancelling in-flight pipeline runs")
	p.cancelRun()
	select {
	case <-done:
	case <-time.After(killGrace):
	}
	return ctx.Err()
}
