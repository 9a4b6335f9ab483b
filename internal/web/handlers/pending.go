package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/quality"
	"github.com/kozaktomas/face-attendance/internal/review"
)

// Form fields of a remote submission that are not person attributes.
const (
	formPersonID = "person_id"
	formGroupID  = "group_id"
)

// PendingHandler handles remote submissions and their review.
type PendingHandler struct {
	reviewer *review.Reviewer
}

// NewPendingHandler creates a new pending handler.
func NewPendingHandler(reviewer *review.Reviewer) *PendingHandler {
	return &PendingHandler{reviewer: reviewer}
}

// PendingResponse represents a pending enrollment in API responses.
type PendingResponse struct {
	ID          string                   `json:"id"`
	PersonID    string                   `json:"person_id"`
	Fields      map[string]string        `json:"fields"`
	Photos      []string                 `json:"photos"`
	GroupID     string                   `json:"group_id,omitempty"`
	Status      database.PendingStatus   `json:"status"`
	Result      *database.ApprovalResult `json:"result,omitempty"`
	SubmittedAt time.Time                `json:"submitted_at"`
	DecidedAt   *time.Time               `json:"decided_at,omitempty"`
}

func toPendingResponse(p *database.PendingEnrollment) PendingResponse {
	return PendingResponse{
		ID:          p.ID,
		PersonID:    p.PersonID,
		Fields:      p.Fields,
		Photos:      nonNil(p.PhotoRefs),
		GroupID:     p.GroupID,
		Status:      p.Status,
		Result:      p.Result,
		SubmittedAt: p.SubmittedAt,
		DecidedAt:   p.DecidedAt,
	}
}

// Submit accepts a remote enrollment: form fields plus one or more "files".
// Photos are stored as-is and wait for an admin.
func (h *PendingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	photos, err := readImages(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := review.Submission{Fields: map[string]string{}, Photos: photos}
	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		value := strings.TrimSpace(values[0])
		switch key {
		case formPersonID:
			sub.PersonID = value
		case formGroupID:
			sub.GroupID = value
		default:
			sub.Fields[key] = value
		}
	}
	if sub.Fields[review.FieldName] == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if sub.PersonID != "" {
		info := enrollment.Info{PersonID: sub.PersonID, DisplayName: sub.Fields[review.FieldName]}
		if err := info.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	p, err := h.reviewer.Submit(r.Context(), sub)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("Failed to store submission")
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toPendingResponse(p))
}

// List returns submissions. ?status= filters; the default is pending only, "all" lists everything.
func (h *PendingHandler) List(w http.ResponseWriter, r *http.Request) {
	status := database.StatusPending
	switch s := r.URL.Query().Get("status"); s {
	case "":
	case "all":
		status = ""
	case string(database.StatusPending), string(database.StatusApproved), string(database.StatusRejected):
		status = database.PendingStatus(s)
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	list, err := h.reviewer.List(r.Context(), status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list pending enrollments")
		return
	}
	out := make([]PendingResponse, 0, len(list))
	for i := range list {
		out = append(out, toPendingResponse(&list[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one submission.
func (h *PendingHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.reviewer.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toPendingResponse(p))
}

// reviewResponse is the advisory report in API form.
type reviewResponse struct {
	Enrollment PendingResponse      `json:"enrollment"`
	Photos     []review.PhotoReview `json:"photos"`
	Summary    quality.Summary      `json:"summary"`
}

// Review computes the advisory quality report of a submission.
func (h *PendingHandler) Review(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reviewer.Review(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reviewResponse{
		Enrollment: toPendingResponse(rep.Enrollment),
		Photos:     rep.Photos,
		Summary:    rep.Summary,
	})
}

// Accept enrolls a submission. Accepting twice returns the first result.
func (h *PendingHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.reviewer.Accept(r.Context(), id)
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).WithField("pending_id", sanitizeForLog(id)).Warn("Accept failed")
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Reject discards a submission and its photos.
func (h *PendingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.reviewer.Reject(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"rejected": id})
}

// BulkAcceptRequest lists the submissions to accept. Empty means every pending one.
type BulkAcceptRequest struct {
	IDs []string `json:"ids"`
}

// BulkAccept accepts several submissions; one failure does not stop the rest.
func (h *PendingHandler) BulkAccept(w http.ResponseWriter, r *http.Request) {
	var req BulkAcceptRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	if len(req.IDs) == 0 {
		list, err := h.reviewer.List(r.Context(), database.StatusPending)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list pending enrollments")
			return
		}
		for _, p := range list {
			req.IDs = append(req.IDs, p.ID)
		}
	}

	respondJSON(w, http.StatusOK, h.reviewer.BulkAccept(r.Context(), req.IDs))
}
