package api

import (
	"net/http"
)

type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	// Cleanup is the cleaner's availability when cleanup is enabled.
	Cleanup       string `json:"cleanup,omitempty"`
	CleanupReason string `json:"cleanup_reason,omitempty"`
}

type HealthHandler struct {
	gw Gateway
}

func NewHealthHandler(gw Gateway) *HealthHandler {
	return &HealthHandler{gw: gw}
}

// ServeHTTP handles GET /health. It answers 503 until the model is loaded.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.gw.IsReady() {
		WriteError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	resp := HealthResponse{
		Status: "ok",
		Model:  h.gw.ModelID(),
	}
	if a, ok := h.gw.CleanupAvailability(); ok {
		resp.Cleanup = a.State.String()
		resp.CleanupReason = a.Reason
	}
	WriteJSON(w, http.StatusOK, resp)
}
