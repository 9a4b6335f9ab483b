package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/review"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorResponse carries rejection reasons next to the message.
type errorResponse struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons,omitempty"`
	Have    int      `json:"have,omitempty"`
	Need    int      `json:"need,omitempty"`
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var need *enrollment.NeedMorePhotosError

	switch {
	case errors.Is(err, facematch.ErrQualityRejected):
		resp.Reasons = facematch.RejectionReasons(err)
		respondJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &need):
		resp.Have, resp.Need = need.Have, need.Need
		respondJSON(w, http.StatusConflict, resp)
	case errors.Is(err, facematch.ErrNoFaceDetected),
		errors.Is(err, facematch.ErrMultipleFacesDetected),
		errors.Is(err, facematch.ErrExtractionFailed):
		respondJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, facematch.ErrUndecodableImage):
		respondJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, enrollment.ErrSessionNotFound),
		errors.Is(err, database.ErrNotFound),
		errors.Is(err, blob.ErrNotFound):
		respondJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, enrollment.ErrInvalidState),
		errors.Is(err, review.ErrRejected),
		errors.Is(err, review.ErrApproved),
		errors.Is(err, database.ErrStatusConflict):
		respondJSON(w, http.StatusConflict, resp)
	case errors.Is(err, blob.ErrInvalidKey):
		respondJSON(w, http.StatusBadRequest, resp)
	default:
		respondJSON(w, http.StatusInternalServerError, resp)
	}
}

// readImage returns the uploaded image: the "file" part of a multipart form,
// or the raw request body otherwise.
func readImage(r *http.Request, limit int64) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, errors.New("failed to parse multipart form")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("file is required")
		}
		defer file.Close()
		return readLimited(file, limit)
	}
	return readLimited(r.Body, limit)
}

// readImages returns every "files" (or "file") part of a multipart form.
func readImages(r *http.Request) ([][]byte, error) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, errors.New("failed to parse multipart form")
	}
	headers := r.MultipartForm.File["files"]
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		return nil, errors.New("at least one file is required")
	}

	out := make([][]byte, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
		}
		data, err := readLimited(f, constants.MaxFrameSize)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.New("failed to read image")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("image too large")
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	return data, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
