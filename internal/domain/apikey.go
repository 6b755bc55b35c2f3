package domain

import "time"

// APIKey authenticates API clients and dashboard logins.
// Only the SHA-256 hash is persisted; the plaintext is shown once.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"keyPrefix" db:"key_prefix"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" db:"last_used_at"`
}

// BootstrapKey is the synthetic identity used while no keys exist.
func BootstrapKey() *APIKey {
	return &APIKey{ID: "bootstrap", Name: "Bootstrap Key"}
}

// CreateAPIKeyRequest is the request body for creating an API key.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKeyResponse carries the plaintext key exactly once.
type CreateAPIKeyResponse struct {
	*APIKey
	Key string `json:"key"`
}
