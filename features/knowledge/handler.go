package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"voxkb/internal/middleware"
)

type Handler struct {
	service         *Service
	maxUploadSizeMB int
}

func NewHandler(service *Service, maxUploadSizeMB int) *Handler {
	if maxUploadSizeMB <= 0 {
		maxUploadSizeMB = 50
	}
	return &Handler{service: service, maxUploadSizeMB: maxUploadSizeMB}
}

// workspaceID resolves the tenant for a request. Authentication itself is
// handled upstream; the gateway forwards the resolved workspace in a header.
func workspaceID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Workspace-ID"))
}

// Create accepts multipart form data with exactly one of file, text, or url.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	if ws == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-Workspace-ID header is required", http.StatusBadRequest)
		return
	}

	limit := int64(h.maxUploadSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Request too large or malformed", http.StatusBadRequest)
		return
	}

	params := CreateParams{
		WorkspaceID: ws,
		Name:        r.FormValue("name"),
		Text:        r.FormValue("text"),
		URL:         r.FormValue("url"),
	}
	if params.Name == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Name is required", http.StatusBadRequest)
		return
	}

	if raw := r.FormValue("assigned_assistant_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.AssistantIDs); err != nil {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "assigned_assistant_ids must be a JSON array of strings", http.StatusBadRequest)
			return
		}
	}

	sources := 0
	if params.Text != "" {
		sources++
	}
	if params.URL != "" {
		sources++
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		sources++

		// Uploads are read as UTF-8 plain text downstream, so only
		// text-based formats pass.
		ext := filepath.Ext(header.Filename)
		validExts := map[string]bool{
			".md": true, ".txt": true, ".json": true, ".csv": true, ".html": true,
		}
		if !validExts[ext] {
			h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to read file", http.StatusInternalServerError)
			return
		}
		params.FileBytes = data
		params.FileName = filepath.Base(header.Filename)
	}

	if sources != 1 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Provide exactly one source: file, text, or url", http.StatusBadRequest)
		return
	}

	doc, err := h.service.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			h.writeError(r.Context(), w, "CONFLICT", "Identical content already exists in this workspace", http.StatusConflict)
			return
		}
		slog.Error("operation failed", "error", err, "workspace_id", ws)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": doc}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	if ws == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-Workspace-ID header is required", http.StatusBadRequest)
		return
	}

	docs, err := h.service.List(r.Context(), ws)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), r.PathValue("id"), workspaceID(r))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": doc}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) GetChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.service.GetChunks(r.Context(), r.PathValue("id"), workspaceID(r))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if chunks == nil {
		chunks = []Chunk{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": chunks,
		"meta": map[string]int{"count": len(chunks)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id"), workspaceID(r)); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resync(r.Context(), r.PathValue("id"), workspaceID(r)); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
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
