// Package auth authenticates API clients, dashboard users and webhook deliveries.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bcnelson/sid/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider wraps the OIDC provider and OAuth2 config.
type OIDCProvider struct {
	oauth2Config   *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// OIDCClaims represents the claims from an ID token.
type OIDCClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewOIDCProvider discovers the issuer and builds the OAuth2 client.
func NewOIDCProvider(ctx context.Context, cfg *config.OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &OIDCProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.GetScopes(),
		},
		verifier:       provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		allowedDomains: cfg.GetAllowedDomains(),
	}, nil
}

// AuthCodeURL generates an authorization URL with state and nonce.
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades an authorization code for a verified set of claims.
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (*OIDCClaims, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if !ConstantTimeCompare(idToken.Nonce, nonce) {
		return nil, fmt.Errorf("nonce mismatch")
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	return &claims, nil
}

// ValidateClaims checks the email claim against the allowed domains.
func (p *OIDCProvider) ValidateClaims(claims *OIDCClaims) error {
	return ValidateEmailDomain(claims.Email, p.allowedDomains)
}

// ValidateEmailDomain requires an email address and, when allowed is not
// empty, that its domain is one of allowed.
func ValidateEmailDomain(email string, allowed []string) error {
	if email == "" {
		return fmt.Errorf("email claim is required")
	}
	if len(allowed) == 0 {
		return nil
	}

	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return fmt.Errorf("invalid email format")
	}
	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return nil
		}
	}
	return fmt.Errorf("email domain %s is not allowed", strings.ToLower(domain))
}

// GenerateSecureString generates a cryptographically secure random string.
func GenerateSecureString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
