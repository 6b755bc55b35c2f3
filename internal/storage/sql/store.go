package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Ensure Store implements storage.Storage.
var _ storage.Storage = (*Store)(nil)

// New connects to the database and applies pending migrations.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if driver == "sqlite3" {
		// One writer at a time; concurrent deploy outcomes all append events.
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(db.DB, driver); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, driver: driver}, nil
}

// Migrate runs the embedded goose migrations for driver.
func Migrate(db *sql.DB, driver string) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations/"+driver); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	keys := []*domain.APIKey{}
	err := s.db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

// ============================================
// Stacks
// ============================================

const stackColumns = `id, name, path, status, created_at, updated_at`

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stacks (`+stackColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		stack.ID, stack.Name, stack.Path, stack.Status, stack.CreatedAt, stack.UpdatedAt)
	return wrapUniqueError(err)
}

// UpsertStack relies on the UNIQUE(name) constraint; the returned id equals
// the proposed one only when the row was inserted.
func (s *Store) UpsertStack(ctx context.Context, stack *domain.Stack) (bool, error) {
	proposed := stack.ID
	var stored domain.Stack
	err := s.db.GetContext(ctx, &stored,
		`INSERT INTO stacks (`+stackColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
		     path = excluded.path,
		     status = excluded.status,
		     updated_at = excluded.updated_at
		 RETURNING `+stackColumns,
		stack.ID, stack.Name, stack.Path, stack.Status, stack.CreatedAt, stack.UpdatedAt)
	if err != nil {
		return false, err
	}
	*stack = stored
	return stored.ID == proposed, nil
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	var stack domain.Stack
	err := s.db.GetContext(ctx, &stack,
		`SELECT `+stackColumns+` FROM stacks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stack, nil
}

func (s *Store) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	var stack domain.Stack
	err := s.db.GetContext(ctx, &stack,
		`SELECT `+stackColumns+` FROM stacks WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stack, nil
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	stacks := []*domain.Stack{}
	err := s.db.SelectContext(ctx, &stacks,
		`SELECT `+stackColumns+` FROM stacks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return stacks, nil
}

// ============================================
// Events
// ============================================

const eventColumns = `id, kind, message, stack_name, created_at`

func (s *Store) CreateEvent(ctx context.Context, event *domain.Event) error {
	return s.db.GetContext(ctx, &event.ID,
		`INSERT INTO events (kind, message, stack_name, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		event.Kind, event.Message, event.StackName, event.CreatedAt)
}

func (s *Store) ListEvents(ctx context.Context, limit, offset int) ([]*domain.Event, error) {
	events := []*domain.Event{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListStackEvents(ctx context.Context, stackName string, limit int) ([]*domain.Event, error) {
	events := []*domain.Event{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT `+eventColumns+` FROM events WHERE stack_name = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		stackName, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM events`)
	return count, err
}

func (s *Store) LatestEvents(ctx context.Context) (map[string]*domain.Event, error) {
	var events []*domain.Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT e.id, e.kind, e.message, e.stack_name, e.created_at
		 FROM events e
		 JOIN (SELECT stack_name, MAX(id) AS id FROM events WHERE stack_name IS NOT NULL GROUP BY stack_name) latest
		   ON e.id = latest.id`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Event, len(events))
	for _, ev := range events {
		out[ev.Stack()] = ev
	}
	return out, nil
}
