package handler

import (
	"net/http"

	"github.com/bcnelson/sid/internal/service"
)

// SyncHandler triggers a sync from source.
type SyncHandler struct {
	pipeline *service.Pipeline
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(pipeline *service.Pipeline) *SyncHandler {
	return &SyncHandler{pipeline: pipeline}
}

// Sync refreshes the mirror and upserts every discovered stack. Per-stack
// upsert failures are reported with the partial result.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.pipeline.SyncFromSource(r.Context())
	if err != nil && report == nil {
		handleError(w, err)
		return
	}
	if err != nil {
		respondJSON(w, http.StatusMultiStatus, map[string]any{
			"report": report,
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, report)
}
