package web

import (
	"net/http"
	"net/url"

	"github.com/bcnelson/sid/internal/auth"
)

// handleOIDCLogin initiates the OIDC login flow.
func (s *Server) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if s.oidc == nil {
		http.Error(w, "OIDC authentication is not enabled", http.StatusNotFound)
		return
	}

	stateData, err := s.oidc.States.Generate(w)
	if err != nil {
		s.logger.Error("Failed to generate OIDC state", "error", err)
		loginError(w, r, "Failed to initiate login")
		return
	}

	http.Redirect(w, r, s.oidc.Provider.AuthCodeURL(stateData.State, stateData.Nonce), http.StatusSeeOther)
}

// handleOIDCCallback handles the OIDC callback after authentication.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if s.oidc == nil {
		http.Error(w, "OIDC authentication is not enabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		errDesc := q.Get("error_description")
		if errDesc == "" {
			errDesc = errParam
		}
		s.logger.Warn("OIDC provider returned error", "error", errParam, "description", errDesc)
		loginError(w, r, errDesc)
		return
	}

	code := q.Get("code")
	if code == "" {
		loginError(w, r, "No authorization code received")
		return
	}

	stateData, err := s.oidc.States.Validate(r, q.Get("state"))
	if err != nil {
		s.logger.Warn("OIDC state validation failed", "error", err)
		loginError(w, r, "Invalid state parameter")
		return
	}
	s.oidc.States.Clear(w)

	claims, err := s.oidc.Provider.Exchange(r.Context(), code, stateData.Nonce)
	if err != nil {
		s.logger.Error("OIDC token exchange failed", "error", err)
		loginError(w, r, "Failed to complete authentication")
		return
	}

	if err := s.oidc.Provider.ValidateClaims(claims); err != nil {
		s.logger.Warn("OIDC claims rejected", "email", claims.Email, "error", err)
		loginError(w, r, err.Error())
		return
	}

	session := &auth.OIDCSession{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}
	if err := s.oidc.Sessions.Create(w, session); err != nil {
		s.logger.Error("Failed to create OIDC session", "error", err)
		loginError(w, r, "Failed to create session")
		return
	}

	s.logger.Info("Dashboard login", "method", "oidc", "user", session.DisplayName())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func loginError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(msg), http.StatusSeeOther)
}
