package auth

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// StateCookieName is the name of the OIDC state cookie.
	StateCookieName = "sid_oidc_state"
	// StateCookieMaxAge is how long a login attempt may take, in seconds.
	StateCookieMaxAge = 5 * 60
)

// StateStore keeps the OIDC state and nonce in an encrypted cookie for CSRF protection.
type StateStore struct {
	sealer *Sealer
	secure bool
}

// StateData holds the state and nonce for an OIDC request.
type StateData struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewStateStore creates a state store.
func NewStateStore(sealer *Sealer, secure bool) *StateStore {
	return &StateStore{sealer: sealer, secure: secure}
}

// Generate creates a new state/nonce pair and stores it in a cookie.
func (ss *StateStore) Generate(w http.ResponseWriter) (*StateData, error) {
	state, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	data := &StateData{
		State:     state,
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(StateCookieMaxAge * time.Second),
	}
	value, err := ss.sealer.Seal(data)
	if err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   StateCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   ss.secure,
	})
	return data, nil
}

// Validate checks the returned state against the cookie.
func (ss *StateStore) Validate(r *http.Request, state string) (*StateData, error) {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return nil, fmt.Errorf("state cookie not found: %w", err)
	}

	var data StateData
	if err := ss.sealer.Open(cookie.Value, &data); err != nil {
		return nil, err
	}
	if time.Now().After(data.ExpiresAt) {
		return nil, fmt.Errorf("state expired")
	}
	if !ConstantTimeCompare(data.State, state) {
		return nil, fmt.Errorf("state mismatch")
	}
	return &data, nil
}

// Clear clears the state cookie.
func (ss *StateStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   ss.secure,
	})
}
