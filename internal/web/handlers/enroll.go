package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// EnrollHandler drives interactive enrollment sessions.
type EnrollHandler struct {
	sessions *enrollment.SessionManager
	pipeline *enrollment.Pipeline
}

// NewEnrollHandler creates a new enroll handler.
func NewEnrollHandler(sessions *enrollment.SessionManager, pipeline *enrollment.Pipeline) *EnrollHandler {
	return &EnrollHandler{sessions: sessions, pipeline: pipeline}
}

// StartRequest selects the capture mode.
type StartRequest struct {
	Mode string `json:"mode"`
}

// Start opens a session.
func (h *EnrollHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	mode, err := enrollment.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.sessions.Start(mode)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	logger.FromContext(r.Context()).WithFields(logger.Fields{
		"session_id": s.ID(),
		"mode":       mode,
	}).Info("Enrollment session started")
	respondJSON(w, http.StatusCreated, s.Status())
}

// List returns every open session.
func (h *EnrollHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sessions.List())
}

// Status returns one session.
func (h *EnrollHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Status())
}

// Info records the person being enrolled. A missing person id is generated.
func (h *EnrollHandler) Info(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var info enrollment.Info
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if info.PersonID == "" {
		info.PersonID = uuid.NewString()
	}
	if err := s.SetInfo(info); err != nil {
		if errors.Is(err, enrollment.ErrInvalidState) {
			respondDomainError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.Status())
}

// submitResponse carries the verdict of a rejected camera frame.
type submitResponse struct {
	*enrollment.SubmitResult
	Error   string   `json:"error,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// Photo submits one photo: a camera frame or an uploaded file.
func (h *EnrollHandler) Photo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := readImage(r, constants.MaxFrameSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.Submit(r.Context(), data)
	if err != nil {
		if res != nil && errors.Is(err, facematch.ErrQualityRejected) {
			respondJSON(w, http.StatusUnprocessableEntity, submitResponse{
				SubmitResult: res,
				Error:        err.Error(),
				Reasons:      facematch.RejectionReasons(err),
			})
			return
		}
		respondDomainError(w, err)
		return
	}
	status := http.StatusOK
	if res.Pending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, submitResponse{SubmitResult: res})
}

// Photos submits several uploaded files at once.
func (h *EnrollHandler) Photos(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	files, err := readImages(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]submitResponse, 0, len(files))
	for _, data := range files {
		res, err := s.Submit(r.Context(), data)
		if res == nil && err != nil {
			respondDomainError(w, err)
			return
		}
		out := submitResponse{SubmitResult: res}
		if err != nil {
			out.Error = err.Error()
			out.Reasons = facematch.RejectionReasons(err)
		}
		results = append(results, out)
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"results": results,
		"status":  s.Status(),
	})
}

// Commit waits for pending checks, then extracts and stores the accepted photos.
func (h *EnrollHandler) Commit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Wait(r.Context()); err != nil {
		respondError(w, http.StatusRequestTimeout, "quality checks still running")
		return
	}

	log := logger.FromContext(r.Context()).WithField("session_id", s.ID())
	res, err := h.pipeline.Enroll(r.Context(), s)
	if err != nil {
		log.WithError(err).Warn("Enrollment failed")
		respondDomainError(w, err)
		return
	}
	log.WithFields(logger.Fields{
		"person_id":  res.PersonID,
		"embeddings": res.EmbeddingCount,
		"failed":     len(res.Failed),
	}).Info("Enrollment completed")
	respondJSON(w, http.StatusOK, res)
}

// Cancel discards a session.
func (h *EnrollHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.sessions.Remove(id) {
		respondDomainError(w, enrollment.ErrSessionNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cancelled": id})
}

func (h *EnrollHandler) session(w http.ResponseWriter, r *http.Request) (*enrollment.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return nil, false
	}
	return s, true
}
