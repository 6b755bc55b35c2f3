package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/domain"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// Auth creates bearer-key authentication middleware.
func Auth(keys *auth.KeyAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, msg := BearerToken(r)
			if msg != "" {
				http.Error(w, `{"code":401,"message":"`+msg+`"}`, http.StatusUnauthorized)
				return
			}

			key, err := keys.Authenticate(r.Context(), presented)
			if errors.Is(err, domain.ErrInvalidAPIKey) {
				http.Error(w, `{"code":401,"message":"invalid API key"}`, http.StatusUnauthorized)
				return
			}
			if err != nil {
				http.Error(w, `{"code":500,"message":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the API key from the Authorization header. When the
// header is unusable the second result says why.
func BearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", "invalid authorization header format"
	}
	if key == "" {
		return "", "empty API key"
	}
	return key, ""
}

// GetAPIKeyFromContext retrieves the API key from the request context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
