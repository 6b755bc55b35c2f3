// Package web serves the htmx dashboard: containers, stacks, the event log
// and API key settings.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/config"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/service"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/go-chi/chi/v5"
)

//go:embed templates static
var content embed.FS

// Generation counts dashboard invalidations. Open pages poll it and reload
// when it moves.
type Generation struct {
	n atomic.Uint64
}

// Invalidate marks every rendered page stale.
func (g *Generation) Invalidate() { g.n.Add(1) }

// Value returns the current generation.
func (g *Generation) Value() uint64 { return g.n.Load() }

// OIDCComponents holds the pieces needed for SSO login.
type OIDCComponents struct {
	Provider *auth.OIDCProvider
	Sessions *auth.SessionManager
	States   *auth.StateStore
}

// NewOIDCComponents discovers the issuer and builds the cookie stores.
func NewOIDCComponents(ctx context.Context, cfg *config.OIDCConfig, secure bool) (*OIDCComponents, error) {
	secret, err := cfg.GetSessionSecretBytes()
	if err != nil {
		return nil, err
	}
	sealer, err := auth.NewSealer(secret)
	if err != nil {
		return nil, err
	}
	provider, err := auth.NewOIDCProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &OIDCComponents{
		Provider: provider,
		Sessions: auth.NewSessionManager(sealer, cfg.SessionDuration, secure),
		States:   auth.NewStateStore(sealer, secure),
	}, nil
}

// Options configures the dashboard.
type Options struct {
	Store         storage.Storage
	Pipeline      *service.Pipeline
	Keys          *auth.KeyAuthenticator
	Generation    *Generation
	OIDC          *OIDCComponents // nil disables SSO
	SecureCookies bool
	Logger        *slog.Logger
}

// Server holds dependencies for web handlers.
type Server struct {
	store      storage.Storage
	pipeline   *service.Pipeline
	keys       *auth.KeyAuthenticator
	generation *Generation
	oidc       *OIDCComponents
	secure     bool
	logger     *slog.Logger
	templates  map[string]*template.Template
}

// NewServer parses the embedded templates and returns the dashboard server.
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Generation == nil {
		opts.Generation = &Generation{}
	}
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Server{
		store:      opts.Store,
		pipeline:   opts.Pipeline,
		keys:       opts.Keys,
		generation: opts.Generation,
		oidc:       opts.OIDC,
		secure:     opts.SecureCookies,
		logger:     opts.Logger,
		templates:  templates,
	}, nil
}

// Router returns the dashboard routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	staticFS, _ := fs.Sub(content, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Public routes
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)
	r.Get("/auth/login", s.handleOIDCLogin)
	r.Get("/auth/callback", s.handleOIDCCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth)

		r.Get("/", s.handleDashboard)
		r.Get("/partials/generation", s.handleGeneration)
		r.Get("/partials/containers", s.handleContainersPartial)
		r.Get("/partials/stacks", s.handleStacksPartial)
		r.Get("/partials/events", s.handleEventsPartial)

		r.Post("/containers/{id}/{action}", s.handleContainerAction)

		r.Post("/stacks", s.handleStackCreate)
		r.Get("/stacks/{id}", s.handleStackDetail)
		r.Post("/stacks/{id}/up", s.handleStackUp)
		r.Post("/sync", s.handleSync)

		r.Get("/settings", s.handleSettingsPage)
		r.Post("/settings/keys", s.handleAPIKeyCreate)
		r.Delete("/settings/keys/{id}", s.handleAPIKeyDelete)
	})

	return r
}

var funcMap = template.FuncMap{
	"add":       func(a, b int) int { return a + b },
	"sub":       func(a, b int) int { return a - b },
	"timestamp": timestamp,
	"kindClass": kindClass,
}

// parseTemplates parses one template set per page, each with the base
// layout and shared components.
func parseTemplates() (map[string]*template.Template, error) {
	pages, err := fs.Glob(content, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		name := strings.TrimSuffix(path.Base(page), ".html")
		tmpl, err := template.New(name).Funcs(funcMap).ParseFS(content,
			"templates/base.html",
			"templates/components/*.html",
			page)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		templates[name] = tmpl
	}
	return templates, nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2, 15:04:05")
}

func kindClass(kind domain.EventKind) string {
	switch kind {
	case domain.EventSuccess:
		return "badge-success"
	case domain.EventError:
		return "badge-danger"
	default:
		return "badge-info"
	}
}

// PageData holds common data passed to all page templates.
type PageData struct {
	Title      string
	Active     string // Current nav item
	User       string
	Flash      *FlashMessage
	Generation uint64
	SSO        bool
	Content    any
}

// FlashMessage represents a flash message.
type FlashMessage struct {
	Type    string // "success", "error", "info"
	Message string
}
