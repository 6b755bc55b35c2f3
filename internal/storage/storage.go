package storage

import (
	"context"

	"github.com/bcnelson/sid/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use. Every call is its own
// atomic unit; there are no multi-call transactions.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Stacks
	CreateStack(ctx context.Context, stack *domain.Stack) error
	// UpsertStack inserts the stack, or updates path, status and updated_at
	// of the existing stack with the same name. It reports whether a row
	// was inserted. stack is filled in with the stored values.
	UpsertStack(ctx context.Context, stack *domain.Stack) (created bool, err error)
	GetStack(ctx context.Context, id string) (*domain.Stack, error)
	GetStackByName(ctx context.Context, name string) (*domain.Stack, error)
	ListStacks(ctx context.Context) ([]*domain.Stack, error)

	// Events (append-only)
	CreateEvent(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, limit, offset int) ([]*domain.Event, error)
	ListStackEvents(ctx context.Context, stackName string, limit int) ([]*domain.Event, error)
	CountEvents(ctx context.Context) (int, error)
	// LatestEvents returns the newest event per stack name.
	LatestEvents(ctx context.Context) (map[string]*domain.Event, error)
}

// Summaries joins stacks with their most recent event.
func Summaries(ctx context.Context, s Storage) ([]*domain.StackSummary, error) {
	stacks, err := s.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.LatestEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.StackSummary, 0, len(stacks))
	for _, st := range stacks {
		out = append(out, &domain.StackSummary{Stack: st, LastEvent: latest[st.Name]})
	}
	return out, nil
}

// EventPage loads one page (1-based) of the event log.
func EventPage(ctx context.Context, s Storage, page, pageSize int) (*domain.EventPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	total, err := s.CountEvents(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.ListEvents(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &domain.EventPage{Events: events, Total: total, Page: page, PageSize: pageSize}, nil
}
