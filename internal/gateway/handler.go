package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds an inbound webhook body
const maxBodyBytes = 1 << 20

// Handler exposes the gateway over HTTP
type Handler struct {
	service *Service
}

// NewHandler creates a gateway HTTP handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the webhook routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.handleWebhook)
}

// webhookResponse is the JSON body returned to the provider
type webhookResponse struct {
	EventID string `json:"eventId,omitempty"`
	Action  string `json:"action,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleWebhook receives one inbound webhook delivery
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, webhookResponse{Error: "body too large"})
		return
	}

	result := h.service.Handle(r.Context(), provider, body, r.Header)

	resp := webhookResponse{EventID: result.EventID, Action: result.Action}
	if result.Err != nil && result.Status >= 400 {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, result.Status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
