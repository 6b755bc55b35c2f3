package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bcnelson/sid/internal/domain"
)

const (
	sessionCookieName = "sid_session"
	sessionDuration   = 24 * time.Hour
)

type contextKey string

const sessionContextKey contextKey = "session"

// Session is the authenticated dashboard user: either an API key holder or
// an SSO identity.
type Session struct {
	APIKey *domain.APIKey
	User   string
}

// Name is shown in the navigation bar.
func (s *Session) Name() string {
	if s.User != "" {
		return s.User
	}
	if s.APIKey != nil {
		return s.APIKey.Name
	}
	return ""
}

// sessionAuth is middleware that validates session cookies.
func (s *Server) sessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if s.oidc != nil {
			if sso, err := s.oidc.Sessions.Get(r); err == nil {
				session := &Session{User: sso.DisplayName()}
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey, session)))
				return
			}
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			s.redirectToLogin(w, r)
			return
		}

		key, err := s.keys.Authenticate(ctx, cookie.Value)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidAPIKey) {
				s.logger.Error("Failed to authenticate dashboard session", "error", err)
			}
			clearSessionCookie(w)
			s.redirectToLogin(w, r)
			return
		}

		session := &Session{APIKey: key}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey, session)))
	})
}

// redirectToLogin sends htmx requests a full-page redirect instead of
// swapping the login page into a fragment.
func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/login")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// getSession retrieves the session from context.
func getSession(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey).(*Session)
	return session
}

// setSessionCookie sets the session cookie.
func (s *Server) setSessionCookie(w http.ResponseWriter, apiKey string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    apiKey,
		Path:     "/",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.secure,
	})
}

// clearSessionCookie clears the session cookie.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
