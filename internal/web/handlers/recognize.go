package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// RecognizeHandler matches faces in live frames.
type RecognizeHandler struct {
	service *recognition.Service
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(service *recognition.Service) *RecognizeHandler {
	return &RecognizeHandler{service: service}
}

// Recognize matches every face of one frame. ?group= restricts candidates to a group.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	frame, err := readImage(r, constants.MaxFrameSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	groupID := r.URL.Query().Get("group")

	res, err := h.service.Recognize(r.Context(), frame, groupID)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).WithField("group_id", sanitizeForLog(groupID)).Warn("Recognition failed")
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
