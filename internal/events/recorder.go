// Package events is the single path through which pipeline components
// report outcomes to the operational event log.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/metrics"
)

// Store is the slice of storage.Storage the recorder writes to.
type Store interface {
	CreateEvent(ctx context.Context, event *domain.Event) error
}

// Recorder appends events. It never returns an error: a failed write is
// logged and dropped so that the audit trail cannot abort a deployment.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record appends one event. An empty stackName records a global event.
func (r *Recorder) Record(ctx context.Context, kind domain.EventKind, message, stackName string) {
	ev := &domain.Event{
		Kind:      kind,
		Message:   message,
		CreatedAt: r.now().UTC(),
	}
	if stackName != "" {
		ev.StackName = &stackName
	}

	// A cancelled run still gets its outcome recorded.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.CreateEvent(ctx, ev); err != nil {
		metrics.EventWriteFailed()
		r.logger.Error("Failed to record event",
			"kind", kind,
			"stack", stackName,
			"message", message,
			"error", err)
		return
	}
	r.logger.Debug("Event recorded", "id", ev.ID, "kind", kind, "stack", stackName)
}

// Info records an Info event.
func (r *Recorder) Info(ctx context.Context, message, stackName string) {
	r.Record(ctx, domain.EventInfo, message, stackName)
}

// Success records a Success event.
func (r *Recorder) Success(ctx context.Context, message, stackName string) {
	r.Record(ctx, domain.EventSuccess, message, stackName)
}

// Error records an Error event.
func (r *Recorder) Error(ctx context.Context, message, stackName string) {
	r.Record(ctx, domain.EventError, message, stackName)
}
