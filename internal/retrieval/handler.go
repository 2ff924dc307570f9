package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"voxkb/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Retrieve serves scoped context lookups for assistant runtimes.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssistantID string   `json:"assistant_id"`
		WorkspaceID string   `json:"workspace_id"`
		Query       string   `json:"query"`
		TopK        *int     `json:"top_k,omitempty"`
		Threshold   *float64 `json:"threshold,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.AssistantID == "" || req.WorkspaceID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "assistant_id and workspace_id are required", http.StatusBadRequest)
		return
	}

	res := h.service.Retrieve(r.Context(), req.AssistantID, req.WorkspaceID, req.Query, &Options{
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": res}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
