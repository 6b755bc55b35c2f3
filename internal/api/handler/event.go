package handler

import (
	"net/http"

	"github.com/bcnelson/sid/internal/storage"
)

// EventHandler serves the event log.
type EventHandler struct {
	store storage.Storage
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(store storage.Storage) *EventHandler {
	return &EventHandler{store: store}
}

// List returns one page of events, newest first.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	pageSize := min(queryInt(r, "pageSize", 10), 100)
	page, err := storage.EventPage(r.Context(), h.store, queryInt(r, "page", 1), pageSize)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}
