package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/google/uuid"
)

// KeyPrefix starts every generated API key.
const KeyPrefix = "sid_"

// KeyStore is the slice of storage.Storage used for API keys.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)
}

// HashAPIKey returns the hex SHA-256 of key. API keys are high-entropy
// random strings, so a fast hash is enough for lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey generates a key named name and persists its hash. The plaintext
// is only ever available in the returned response.
func NewAPIKey(ctx context.Context, store KeyStore, name string) (*domain.CreateAPIKeyResponse, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	key := KeyPrefix + hex.EncodeToString(raw)

	apiKey := &domain.APIKey{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		KeyHash:   HashAPIKey(key),
		KeyPrefix: key[:len(KeyPrefix)+8],
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}
	return &domain.CreateAPIKeyResponse{APIKey: apiKey, Key: key}, nil
}

// KeyAuthenticator resolves presented API keys. The bootstrap key is only
// honored while no keys have been created.
type KeyAuthenticator struct {
	store        KeyStore
	bootstrapKey string
	logger       *slog.Logger
}

// NewKeyAuthenticator creates a KeyAuthenticator.
func NewKeyAuthenticator(store KeyStore, bootstrapKey string, logger *slog.Logger) *KeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyAuthenticator{store: store, bootstrapKey: bootstrapKey, logger: logger}
}

// Authenticate returns the key matching presented, or domain.ErrInvalidAPIKey.
func (a *KeyAuthenticator) Authenticate(ctx context.Context, presented string) (*domain.APIKey, error) {
	if presented == "" {
		return nil, domain.ErrInvalidAPIKey
	}

	count, err := a.store.CountAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 && a.bootstrapKey != "" && ConstantTimeCompare(presented, a.bootstrapKey) {
		return domain.BootstrapKey(), nil
	}

	key, err := a.store.GetAPIKeyByHash(ctx, HashAPIKey(presented))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	// Last-used is informational; don't hold the request for it.
	go func() {
		if err := a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID); err != nil {
			a.logger.Debug("Failed to update API key last used", "key", key.ID, "error", err)
		}
	}()
	return key, nil
}
