package web

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/bcnelson/sid/internal/validation"
	"github.com/go-chi/chi/v5"
)

const (
	eventsPageSize    = 10
	stackDetailEvents = 50
)

// handleLoginPage renders the login page.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title: "Login",
		SSO:   s.oidc != nil,
	}

	if msg := r.URL.Query().Get("error"); msg != "" {
		data.Flash = &FlashMessage{Type: "error", Message: msg}
	}

	s.render(w, "base-noauth", "login", data)
}

// handleLogin processes the login form.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=Invalid+form+data", http.StatusSeeOther)
		return
	}

	apiKey := r.FormValue("api_key")
	if apiKey == "" {
		http.Redirect(w, r, "/login?error=API+key+required", http.StatusSeeOther)
		return
	}

	key, err := s.keys.Authenticate(r.Context(), apiKey)
	if errors.Is(err, domain.ErrInvalidAPIKey) {
		http.Redirect(w, r, "/login?error=Invalid+API+key", http.StatusSeeOther)
		return
	}
	if err != nil {
		s.logger.Error("Login failed", "error", err)
		http.Redirect(w, r, "/login?error=Server+error", http.StatusSeeOther)
		return
	}

	s.logger.Info("Dashboard login", "method", "api_key", "key", key.Name)
	s.setSessionCookie(w, apiKey)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout clears the session and redirects to login.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w)
	if s.oidc != nil {
		s.oidc.Sessions.Clear(w)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// DashboardData holds data for the dashboard page.
type DashboardData struct {
	Containers ContainersData
	Stacks     StacksData
	Events     *domain.EventPage
}

// ContainersData is the container table. Err is set when the engine could
// not be listed; the rest of the dashboard still renders.
type ContainersData struct {
	Containers []*domain.Container
	Err        string
}

// StacksData is the stack table with its search filter applied.
type StacksData struct {
	Stacks []*domain.StackSummary
	Query  string
}

// handleDashboard renders the dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.stacksData(r)
	if err != nil {
		s.renderError(w, "Failed to load stacks", http.StatusInternalServerError)
		return
	}
	events, err := s.eventsPage(r)
	if err != nil {
		s.renderError(w, "Failed to load events", http.StatusInternalServerError)
		return
	}

	data := s.pageData(r, "Dashboard", "dashboard")
	data.Content = DashboardData{
		Containers: s.containersData(r),
		Stacks:     stacks,
		Events:     events,
	}
	s.render(w, "base", "dashboard", data)
}

// handleGeneration tells a polling page to reload once the dashboard has
// been invalidated since it was rendered.
func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	current := s.generation.Value()
	w.Header().Set("X-Generation", strconv.FormatUint(current, 10))
	if since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64); err == nil && since != current {
		w.Header().Set("HX-Refresh", "true")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleContainersPartial(w http.ResponseWriter, r *http.Request) {
	s.renderPartial(w, "containers_table", s.containersData(r))
}

func (s *Server) handleStacksPartial(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.stacksData(r)
	if err != nil {
		s.renderError(w, "Failed to load stacks", http.StatusInternalServerError)
		return
	}
	s.renderPartial(w, "stacks_table", stacks)
}

func (s *Server) handleEventsPartial(w http.ResponseWriter, r *http.Request) {
	events, err := s.eventsPage(r)
	if err != nil {
		s.renderError(w, "Failed to load events", http.StatusInternalServerError)
		return
	}
	s.renderPartial(w, "events_table", events)
}

func (s *Server) containersData(r *http.Request) ContainersData {
	containers, err := s.pipeline.Containers(r.Context())
	if err != nil {
		s.logger.Warn("Failed to list containers", "error", err)
		return ContainersData{Err: domain.ErrorDetail(err)}
	}
	return ContainersData{Containers: containers}
}

func (s *Server) stacksData(r *http.Request) (StacksData, error) {
	summaries, err := storage.Summaries(r.Context(), s.store)
	if err != nil {
		return StacksData{}, err
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	return StacksData{Stacks: filterStacks(summaries, q), Query: q}, nil
}

func (s *Server) eventsPage(r *http.Request) (*domain.EventPage, error) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	return storage.EventPage(r.Context(), s.store, page, eventsPageSize)
}

// filterStacks keeps stacks whose name or path contains q, ignoring case.
func filterStacks(stacks []*domain.StackSummary, q string) []*domain.StackSummary {
	if q == "" {
		return stacks
	}
	q = strings.ToLower(q)
	var out []*domain.StackSummary
	for _, st := range stacks {
		if strings.Contains(strings.ToLower(st.Name), q) || strings.Contains(strings.ToLower(st.Path), q) {
			out = append(out, st)
		}
	}
	return out
}

// handleContainerAction stops, kills, restarts or removes a container.
func (s *Server) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	action, ok := domain.ParseContainerAction(chi.URLParam(r, "action"))
	if !ok {
		s.renderError(w, "Unknown container action", http.StatusBadRequest)
		return
	}

	if err := s.pipeline.ContainerAction(r.Context(), action, chi.URLParam(r, "id")); err != nil {
		s.renderError(w, "Failed to "+string(action)+" container: "+domain.ErrorDetail(err), statusFor(err))
		return
	}

	w.Header().Set("HX-Redirect", "/")
	w.WriteHeader(http.StatusOK)
}

// handleStackCreate records a stack from the dashboard form.
func (s *Server) handleStackCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	stack, err := s.pipeline.CreateStack(r.Context(), &domain.CreateStackRequest{
		Name: strings.TrimSpace(r.FormValue("name")),
		Path: strings.TrimSpace(r.FormValue("path")),
	})
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			s.renderError(w, verrs.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrAlreadyExists):
			s.renderError(w, "Stack with this name already exists", http.StatusConflict)
		default:
			s.renderError(w, "Failed to create stack", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("HX-Redirect", "/stacks/"+stack.ID)
	w.WriteHeader(http.StatusOK)
}

// handleStackDetail renders one stack with its services and events.
func (s *Server) handleStackDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pipeline.StackDetail(r.Context(), chi.URLParam(r, "id"), stackDetailEvents)
	if errors.Is(err, domain.ErrNotFound) {
		s.renderError(w, "Stack not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.renderError(w, "Failed to load stack", http.StatusInternalServerError)
		return
	}

	data := s.pageData(r, detail.Name, "dashboard")
	data.Content = detail
	s.render(w, "base", "stack", data)
}

// handleStackUp deploys one stack and waits for it.
func (s *Server) handleStackUp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.pipeline.BringUp(r.Context(), id)
	if err != nil {
		s.renderError(w, "Bring up failed: "+domain.ErrorDetail(err), statusFor(err))
		return
	}
	if !result.Success {
		s.renderError(w, "Deployment of "+result.Stack+" failed: "+result.Error, http.StatusOK)
		return
	}

	w.Header().Set("HX-Redirect", "/stacks/"+id)
	w.WriteHeader(http.StatusOK)
}

// handleSync refreshes the mirror and upserts every discovered stack.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.SyncFromSource(r.Context())
	if err != nil {
		s.renderError(w, "Sync failed: "+domain.ErrorDetail(err), statusFor(err))
		return
	}
	s.logger.Info("Sync from source requested", "stacks", len(report.Stacks))

	w.Header().Set("HX-Redirect", "/")
	w.WriteHeader(http.StatusOK)
}

// SettingsPageData holds data for the settings page.
type SettingsPageData struct {
	APIKeys []*domain.APIKey
}

// handleSettingsPage renders the settings page.
func (s *Server) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListAPIKeys(r.Context())
	if err != nil {
		s.renderError(w, "Failed to load API keys", http.StatusInternalServerError)
		return
	}

	data := s.pageData(r, "Settings", "settings")
	data.Content = SettingsPageData{APIKeys: keys}
	s.render(w, "base", "settings", data)
}

// handleAPIKeyCreate creates a new API key and shows it once.
func (s *Server) handleAPIKeyCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if err := validation.ValidateKeyName(name); err != nil {
		s.renderError(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := auth.NewAPIKey(r.Context(), s.store, name)
	if err != nil {
		s.logger.Error("Failed to create API key", "error", err)
		s.renderError(w, "Failed to create API key", http.StatusInternalServerError)
		return
	}

	s.renderFlash(w, &FlashMessage{
		Type:    "success",
		Message: "API key created. Copy it now, it won't be shown again: " + created.Key,
	})
}

// handleAPIKeyDelete deletes an API key.
func (s *Server) handleAPIKeyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAPIKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.renderError(w, "API key not found", http.StatusNotFound)
			return
		}
		s.renderError(w, "Failed to delete API key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("HX-Redirect", "/settings")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) pageData(r *http.Request, title, active string) PageData {
	data := PageData{
		Title:      title,
		Active:     active,
		Generation: s.generation.Value(),
	}
	if session := getSession(r.Context()); session != nil {
		data.User = session.Name()
	}
	return data
}

func statusFor(err error) int {
	var (
		verr *validation.ValidationError
		cerr *domain.ConfigurationError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunInProgress), errors.Is(err, domain.ErrMirrorNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &cerr):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// render renders a full page using the base template.
// base is the base template to use ("base" or "base-noauth").
func (s *Server) render(w http.ResponseWriter, base, page string, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	tmpl, ok := s.templates[page]
	if !ok {
		http.Error(w, "Template not found: "+page, http.StatusInternalServerError)
		return
	}

	if err := tmpl.ExecuteTemplate(w, base, data); err != nil {
		s.logger.Error("Template error", "page", page, "error", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

// renderPartial renders one shared component for htmx swaps.
func (s *Server) renderPartial(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := s.templates["dashboard"].ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Template error", "partial", name, "error", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

func (s *Server) renderFlash(w http.ResponseWriter, flash *FlashMessage) {
	w.Header().Set("HX-Retarget", "#flash")
	w.Header().Set("HX-Reswap", "innerHTML")
	s.renderPartial(w, "flash", flash)
}

// renderError renders an error message into the page's flash area.
func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("HX-Retarget", "#flash")
	w.Header().Set("HX-Reswap", "innerHTML")
	w.WriteHeader(status)
	w.Write([]byte(`<div class="flash flash-error">` + template.HTMLEscapeString(message) + `</div>`))
}
