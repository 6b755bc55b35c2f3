package handler

import (
	"net/http"
	"strconv"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/service"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/go-chi/chi/v5"
)

const stackDetailEvents = 20

// StackHandler handles stack endpoints.
type StackHandler struct {
	store    storage.Storage
	pipeline *service.Pipeline
}

// NewStackHandler creates a new StackHandler.
func NewStackHandler(store storage.Storage, pipeline *service.Pipeline) *StackHandler {
	return &StackHandler{store: store, pipeline: pipeline}
}

// Create records a stack by hand.
func (h *StackHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stack, err := h.pipeline.CreateStack(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, stack)
}

// List lists all stacks with their latest event.
func (h *StackHandler) List(w http.ResponseWriter, r *http.Request) {
	stacks, err := storage.Summaries(r.Context(), h.store)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stacks)
}

// Get returns a stack with its services and recent events.
func (h *StackHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stack_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "stack_id is required")
		return
	}

	detail, err := h.pipeline.StackDetail(r.Context(), id, stackDetailEvents)
	if err != nil {
		handleError(w, err)
		return
	}

	var lastEvent int64
	if len(detail.Events) > 0 {
		lastEvent = detail.Events[0].ID
	}
	etag := GenerateETag("stack", detail.ID+"-"+strconv.FormatInt(lastEvent, 10), detail.UpdatedAt)
	SetETagHeader(w, etag)
	if NotModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// Up deploys the stack from the current mirror contents. A failed
// deployment is still a 200; the result says what happened.
func (h *StackHandler) Up(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stack_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "stack_id is required")
		return
	}

	result, err := h.pipeline.BringUp(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Events lists the stack's most recent events.
func (h *StackHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stack_id")
	stack, err := h.store.GetStack(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	evs, err := h.store.ListStackEvents(r.Context(), stack.Name, queryInt(r, "limit", 50))
	if err != nil {
		handleError(w, err)
		return
	}
	if evs == nil {
		evs = []*domain.Event{}
	}
	respondJSON(w, http.StatusOK, evs)
}
