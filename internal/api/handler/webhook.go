package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bcnelson/sid/internal/api/middleware"
	"github.com/bcnelson/sid/internal/auth"
	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/service"
)

const maxWebhookBody = 5 << 20

// WebhookHandler accepts push deliveries and queues a background pipeline run.
type WebhookHandler struct {
	pipeline *service.Pipeline
	keys     *auth.KeyAuthenticator
	secret   string
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. With a secret, deliveries
// must carry a valid signature; without one they must carry an API key.
func NewWebhookHandler(pipeline *service.Pipeline, keys *auth.KeyAuthenticator, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		pipeline: pipeline,
		keys:     keys,
		secret:   secret,
		logger:   logger,
	}
}

// Receive handles POST /api/v1/webhook.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if err := h.authenticate(r, body); err != nil {
		h.logger.Warn("Rejected webhook delivery", "remote", r.RemoteAddr, "error", err)
		handleError(w, err)
		return
	}

	if r.Header.Get("X-GitHub-Event") == "ping" {
		respondJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	var push domain.PushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		respondError(w, http.StatusBadRequest, "invalid push payload")
		return
	}

	cs := push.ChangeSet()
	merged, err := h.pipeline.Submit(cs)
	if err != nil {
		handleError(w, err)
		return
	}
	h.logger.Info("Webhook accepted", "ref", push.Ref, "after", push.After, "commits", len(push.Commits), "paths", len(cs), "merged", merged)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"paths":  len(cs),
		"merged": merged,
	})
}

func (h *WebhookHandler) authenticate(r *http.Request, body []byte) error {
	if h.secret != "" {
		return auth.VerifySignature(h.secret, body, r.Header.Get(auth.SignatureHeader))
	}
	presented, msg := middleware.BearerToken(r)
	if msg != "" {
		return errors.Join(domain.ErrUnauthorized, errors.New(msg))
	}
	_, err := h.keys.Authenticate(r.Context(), presented)
	return err
}
