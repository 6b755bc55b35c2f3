package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"
)

// OIDCSessionCookieName is the name of the OIDC session cookie.
const OIDCSessionCookieName = "sid_oidc_session"

// OIDCSession is the identity stored in the encrypted session cookie.
type OIDCSession struct {
	Subject   string    `json:"sub"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns the best human-readable name for the session.
func (s *OIDCSession) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}

// SessionManager handles encrypted session cookies.
type SessionManager struct {
	sealer   *Sealer
	duration time.Duration
	secure   bool // Secure flag on cookies (HTTPS deployments)
	now      func() time.Time
}

// NewSessionManager creates a session manager sealing cookies with sealer.
func NewSessionManager(sealer *Sealer, duration time.Duration, secure bool) *SessionManager {
	return &SessionManager{sealer: sealer, duration: duration, secure: secure, now: time.Now}
}

// Create writes a new session cookie.
func (sm *SessionManager) Create(w http.ResponseWriter, session *OIDCSession) error {
	now := sm.now()
	session.CreatedAt = now
	session.ExpiresAt = now.Add(sm.duration)

	value, err := sm.sealer.Seal(session)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     OIDCSessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sm.duration.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   sm.secure,
	})
	return nil
}

// Get returns the session carried by the request, if it is valid and unexpired.
func (sm *SessionManager) Get(r *http.Request) (*OIDCSession, error) {
	cookie, err := r.Cookie(OIDCSessionCookieName)
	if err != nil {
		return nil, fmt.Errorf("session cookie not found: %w", err)
	}

	var session OIDCSession
	if err := sm.sealer.Open(cookie.Value, &session); err != nil {
		return nil, err
	}
	if sm.now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("session expired")
	}
	return &session, nil
}

// Clear clears the session cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     OIDCSessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   sm.secure,
	})
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
