package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse is the client-facing part of the configuration
type ConfigResponse struct {
	Quality           quality.Config `json:"quality"`
	Poses             []string       `json:"poses"`
	MinUploadPhotos   int            `json:"min_upload_photos"`
	Threshold         float64        `json:"threshold"`
	RecognitionTickMs int64          `json:"recognition_tick_ms"`
	Storage           string         `json:"storage"`
	Database          string         `json:"database"`
}

// Get returns the configuration the capture UI needs
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		Quality:           h.config.Quality,
		Poses:             h.config.Enrollment.Poses,
		MinUploadPhotos:   h.config.Enrollment.MinUploadPhotos,
		Threshold:         h.config.Match.Threshold,
		RecognitionTickMs: h.config.Recognition.Interval.Milliseconds(),
		Storage:           h.config.Storage.Type,
		Database:          h.config.Database.Driver,
	})
}
