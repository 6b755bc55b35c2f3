package handler

import (
	"net/http"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/service"
	"github.com/go-chi/chi/v5"
)

// ContainerHandler exposes the container engine.
type ContainerHandler struct {
	pipeline *service.Pipeline
}

// NewContainerHandler creates a new ContainerHandler.
func NewContainerHandler(pipeline *service.Pipeline) *ContainerHandler {
	return &ContainerHandler{pipeline: pipeline}
}

// List lists every container.
func (h *ContainerHandler) List(w http.ResponseWriter, r *http.Request) {
	containers, err := h.pipeline.Containers(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, containers)
}

// Act applies stop, kill, restart, start or remove to one container.
func (h *ContainerHandler) Act(w http.ResponseWriter, r *http.Request) {
	action, ok := domain.ParseContainerAction(chi.URLParam(r, "action"))
	if !ok {
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "unknown container action", chi.URLParam(r, "action"))
		return
	}
	ref := chi.URLParam(r, "id")

	if err := h.pipeline.ContainerAction(r.Context(), action, ref); err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":     ref,
		"status": action.PastTense(),
	})
}
