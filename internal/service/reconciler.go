package service

import (
	"context"
	"errors"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/sethvargo/go-retry"
)

// Reconciler periodically syncs stacks from source.
type Reconciler struct {
	pipeline *Pipeline
	interval time.Duration
	backoff  func() retry.Backoff
}

// NewReconciler creates a Reconciler. A zero interval disables it.
func NewReconciler(p *Pipeline, interval time.Duration) *Reconciler {
	return &Reconciler{
		pipeline: p,
		interval: interval,
		backoff: func() retry.Backoff {
			b := retry.NewExponential(2 * time.Second)
			b = retry.WithCappedDuration(30*time.Second, b)
			return retry.WithMaxRetries(3, b)
		},
	}
}

// Run blocks until ctx is done or the pipeline shuts down, reconciling
// once per interval.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	log := r.pipeline.logger.With("run", domain.RunReconcile)
	log.Info("Scheduled reconciliation enabled", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.pipeline.Closing():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				if errors.Is(err, domain.ErrRunInProgress) {
					log.Debug("Skipping reconciliation, a run is in progress")
					continue
				}
				log.Error("Reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile runs one scheduled sync. It does not queue behind another run:
// when the pipeline is busy it returns ErrRunInProgress. A failed mirror
// refresh is retried with exponential backoff until the pipeline shuts
// down. Configuration errors and discovery or upsert failures are returned
// as they are.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	p := r.pipeline
	if !p.runMu.TryLock() {
		return domain.ErrRunInProgress
	}
	defer p.runMu.Unlock()

	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		_, err := p.syncLocked(ctx, domain.RunReconcile)
		if !retryable(err) {
			return err
		}
		select {
		case <-p.Closing():
			return err
		default:
		}
		p.logger.Warn("Mirror refresh failed, retrying", "error", err)
		return retry.RetryableError(err)
	})
}

func retryable(err error) bool {
	var (
		rerr *RefreshError
		cerr *domain.ConfigurationError
	)
	return errors.As(err, &rerr) && !errors.As(err, &cerr)
}
