package api

import (
	"log/slog"
	"net/http"

	"github.com/bcnelson/sid/internal/api/handler"
	"github.com/bcnelson/sid/internal/api/middleware"
	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/metrics"
	"github.com/bcnelson/sid/internal/service"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterOptions collects what the HTTP surface needs.
type RouterOptions struct {
	Store         storage.Storage
	Pipeline      *service.Pipeline
	Keys          *auth.KeyAuthenticator
	Web           http.Handler // dashboard, mounted at /
	WebhookSecret string
	Port          int
	AllowedHosts  []string
	AnyHost       bool
	Logger        *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.AllowedHosts(opts.Port, opts.AllowedHosts, opts.AnyHost, logger))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Mount web UI (no Content-Type middleware - serves HTML)
	if opts.Web != nil {
		r.Mount("/", opts.Web)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)

		// The webhook authenticates itself: signature when a secret is
		// configured, API key otherwise.
		webhookHandler := handler.NewWebhookHandler(opts.Pipeline, opts.Keys, opts.WebhookSecret, logger)
		r.Post("/webhook", webhookHandler.Receive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(opts.Keys))

			// API Keys
			keyHandler := handler.NewAPIKeyHandler(opts.Store)
			r.Post("/keys", keyHandler.Create)
			r.Get("/keys", keyHandler.List)
			r.Delete("/keys/{id}", keyHandler.Delete)

			// Stacks
			stackHandler := handler.NewStackHandler(opts.Store, opts.Pipeline)
			r.Post("/stacks", stackHandler.Create)
			r.Get("/stacks", stackHandler.List)
			r.Route("/stacks/{stack_id}", func(r chi.Router) {
				r.Get("/", stackHandler.Get)
				r.Post("/up", stackHandler.Up)
				r.Get("/events", stackHandler.Events)
			})

			// Events
			eventHandler := handler.NewEventHandler(opts.Store)
			r.Get("/events", eventHandler.List)

			// Containers
			containerHandler := handler.NewContainerHandler(opts.Pipeline)
			r.Get("/containers", containerHandler.List)
			r.Post("/containers/{id}/{action}", containerHandler.Act)

			// Sync from source
			syncHandler := handler.NewSyncHandler(opts.Pipeline)
			r.Post("/sync", syncHandler.Sync)
		})
	})

	return r
}
