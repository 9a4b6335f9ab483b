package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

// QualityHandler scores single photos.
type QualityHandler struct {
	gate quality.Gate
	cfg  quality.Config
}

// NewQualityHandler creates a new quality handler.
func NewQualityHandler(gate quality.Gate, cfg quality.Config) *QualityHandler {
	return &QualityHandler{gate: gate, cfg: cfg}
}

// Check assesses one photo. A multipart "config" field may override thresholds.
func (h *QualityHandler) Check(w http.ResponseWriter, r *http.Request) {
	data, err := readImage(r, constants.MaxFrameSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := h.cfg
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			respondError(w, http.StatusBadRequest, "invalid config")
			return
		}
	}

	verdict, err := h.gate.Assess(r.Context(), data, cfg)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, verdict)
}
