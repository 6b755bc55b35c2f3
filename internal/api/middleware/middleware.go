// Package middleware holds the HTTP middleware shared by the API and dashboard.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ContentType sets the JSON content type on API responses.
func ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Logging logs one line per request.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				level := slog.LevelInfo
				switch {
				case ww.Status() >= 500:
					level = slog.LevelError
				case r.URL.Path == "/health" || r.URL.Path == "/partials/generation":
					level = slog.LevelDebug
				}
				logger.Log(r.Context(), level, "HTTP request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// AllowedHosts rejects requests whose Host header is not localhost or
// 127.0.0.1 on port, or one of extra. anyHost disables the check.
func AllowedHosts(port int, extra []string, anyHost bool, logger *slog.Logger) func(http.Handler) http.Handler {
	p := strconv.Itoa(port)
	allowed := map[string]bool{
		net.JoinHostPort("localhost", p): true,
		net.JoinHostPort("127.0.0.1", p): true,
	}
	for _, h := range extra {
		allowed[h] = true
	}

	return func(next http.Handler) http.Handler {
		if anyHost {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[r.Host] {
				logger.Warn("Host validation failed, set ALLOWED_HOSTS to allow requests from this host/port", "host", r.Host)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"Host validation failed. See logs for more details."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
