package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
// Values are copied on the way in and out so callers cannot mutate stored rows.
type Store struct {
	mu sync.RWMutex

	apiKeys map[string]*domain.APIKey
	stacks  map[string]*domain.Stack // key: id
	events  []*domain.Event          // append order == id order
	nextID  int64

	// FailEvents makes CreateEvent fail with this error when set.
	FailEvents error
	// FailUpserts makes UpsertStack fail with this error when set.
	FailUpserts error
}

// Ensure Store implements storage.Storage.
var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys: make(map[string]*domain.APIKey),
		stacks:  make(map[string]*domain.Stack),
		nextID:  1,
	}
}

func (s *Store) Close() error { return nil }

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	k := *key
	s.apiKeys[key.ID] = &k
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			k := *key
			return &k, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		k := *key
		keys = append(keys, &k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Stacks
// ============================================

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stacks[stack.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if s.byNameLocked(stack.Name) != nil {
		return domain.ErrAlreadyExists
	}
	st := *stack
	s.stacks[stack.ID] = &st
	return nil
}

func (s *Store) UpsertStack(ctx context.Context, stack *domain.Stack) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts != nil {
		return false, s.FailUpserts
	}
	if existing := s.byNameLocked(stack.Name); existing != nil {
		existing.Path = stack.Path
		existing.Status = stack.Status
		existing.UpdatedAt = stack.UpdatedAt
		*stack = *existing
		return false, nil
	}
	st := *stack
	s.stacks[stack.ID] = &st
	return true, nil
}

func (s *Store) byNameLocked(name string) *domain.Stack {
	for _, existing := range s.stacks {
		if existing.Name == name {
			return existing
		}
	}
	return nil
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stack, exists := s.stacks[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	st := *stack
	return &st, nil
}

func (s *Store) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stack := s.byNameLocked(name); stack != nil {
		st := *stack
		return &st, nil
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stacks := make([]*domain.Stack, 0, len(s.stacks))
	for _, stack := range s.stacks {
		st := *stack
		stacks = append(stacks, &st)
	}
	sort.Slice(stacks, func(i, j int) bool {
		return stacks[i].Name < stacks[j].Name
	})
	return stacks, nil
}

// ============================================
// Events
// ============================================

func (s *Store) CreateEvent(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailEvents != nil {
		return s.FailEvents
	}
	event.ID = s.nextID
	s.nextID++
	ev := *event
	s.events = append(s.events, &ev)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, limit, offset int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newest := s.newestFirstLocked()
	if offset >= len(newest) {
		return []*domain.Event{}, nil
	}
	end := offset + limit
	if end > len(newest) {
		end = len(newest)
	}
	return newest[offset:end], nil
}

func (s *Store) ListStackEvents(ctx context.Context, stackName string, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Event
	for _, ev := range s.newestFirstLocked() {
		if ev.Stack() == stackName {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *Store) LatestEvents(ctx context.Context) (map[string]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]*domain.Event)
	for _, ev := range s.newestFirstLocked() {
		name := ev.Stack()
		if name == "" {
			continue
		}
		if _, seen := latest[name]; !seen {
			latest[name] = ev
		}
	}
	return latest, nil
}

// newestFirstLocked returns copies of the events ordered by created_at, then id, descending.
func (s *Store) newestFirstLocked() []*domain.Event {
	out := make([]*domain.Event, len(s.events))
	for i, ev := range s.events {
		e := *ev
		out[len(s.events)-1-i] = &e
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
