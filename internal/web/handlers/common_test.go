package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/quality"
	"github.com/kozaktomas/face-attendance/internal/review"
)

func TestRespondDomainError_Statuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"quality", &facematch.QualityRejectedError{Reasons: []string{"too blurry"}}, http.StatusUnprocessableEntity},
		{"no face", fmt.Errorf("extract: %w", facematch.ErrNoFaceDetected), http.StatusUnprocessableEntity},
		{"multiple faces", facematch.ErrMultipleFacesDetected, http.StatusUnprocessableEntity},
		{"extraction", facematch.ErrExtractionFailed, http.StatusUnprocessableEntity},
		{"need more", &enrollment.NeedMorePhotosError{Have: 1, Need: 3}, http.StatusConflict},
		{"invalid state", enrollment.ErrInvalidState, http.StatusConflict},
		{"rejected", review.ErrRejected, http.StatusConflict},
		{"already approved", review.ErrApproved, http.StatusConflict},
		{"status conflict", fmt.Errorf("mark: %w", database.ErrStatusConflict), http.StatusConflict},
		{"undecodable", facematch.ErrUndecodableImage, http.StatusBadRequest},
		{"invalid key", blob.ErrInvalidKey, http.StatusBadRequest},
		{"session", enrollment.ErrSessionNotFound, http.StatusNotFound},
		{"pending", review.ErrNotFound, http.StatusNotFound},
		{"person", fmt.Errorf("delete: %w", database.ErrNotFound), http.StatusNotFound},
		{"blob", blob.ErrNotFound, http.StatusNotFound},
		{"persistence", fmt.Errorf("%w: disk full", facematch.ErrPersistenceFailed), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondDomainError(recorder, tc.err)
			assertStatusCode(t, recorder, tc.want)
			assertContentType(t, recorder, "application/json")
			assertJSONError(t, recorder, tc.err.Error())
		})
	}
}

// A gate rejection for face count is both a quality rejection and a face
// count error; the response keeps every reason.
func TestRespondDomainError_FaceCountRejection(t *testing.T) {
	tests := []struct {
		name     string
		reasons  []string
		sentinel error
	}{
		{"no face", []string{quality.ReasonNoFace}, facematch.ErrNoFaceDetected},
		{"two faces", []string{quality.ReasonMultipleFaces, "too dark"}, facematch.ErrMultipleFacesDetected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := fmt.Errorf("photo 2: %w", &facematch.QualityRejectedError{Reasons: tc.reasons})
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tc.sentinel)
			}

			recorder := httptest.NewRecorder()
			respondDomainError(recorder, err)
			assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
			var body errorResponse
			parseJSONResponse(t, recorder, &body)
			if !slices.Equal(body.Reasons, tc.reasons) {
				t.Errorf("reasons = %v, want %v", body.Reasons, tc.reasons)
			}
		})
	}
}

func TestRespondDomainError_NeedMorePhotos(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondDomainError(recorder, fmt.Errorf("commit: %w", &enrollment.NeedMorePhotosError{Have: 2, Need: 4}))
	assertStatusCode(t, recorder, http.StatusConflict)
	var body errorResponse
	parseJSONResponse(t, recorder, &body)
	if body.Have != 2 || body.Need != 4 || len(body.Reasons) != 0 {
		t.Errorf("body = %+v, want have 2 need 4 and no reasons", body)
	}
}

func TestReadImage(t *testing.T) {
	photo := grayPNG(t, 200)
	raw := func(body []byte) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(body))
		req.Header.Set("Content-Type", "image/png")
		return req
	}

	tests := []struct {
		name    string
		req     *http.Request
		limit   int64
		wantErr string
	}{
		{"raw body", raw(photo), 1 << 20, ""},
		{"multipart file", multipartRequest(t, "/recognize", "file", nil, photo), 1 << 20, ""},
		{"multipart without file", multipartRequest(t, "/recognize", "files", nil, photo), 1 << 20, "file is required"},
		{"empty body", raw(nil), 1 << 20, "image is empty"},
		{"over the limit", raw(photo), int64(len(photo) - 1), "image too large"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := readImage(tc.req, tc.limit)
			if tc.wantErr != "" {
				if err == nil || err.Error() != tc.wantErr {
					t.Fatalf("readImage() error = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readImage() error: %v", err)
			}
			if !bytes.Equal(data, photo) {
				t.Error("readImage() returned different bytes")
			}
		})
	}
}

func TestReadImages(t *testing.T) {
	a, b := grayPNG(t, 200), grayPNG(t, 90)

	got, err := readImages(multipartRequest(t, "/pending", "files", map[string]string{"name": "Eva"}, a, b))
	if err != nil {
		t.Fatalf("readImages() error: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("readImages() returned %d photos out of order", len(got))
	}

	single, err := readImages(multipartRequest(t, "/pending", "file", nil, a))
	if err != nil || len(single) != 1 {
		t.Errorf("single file part: %d photos, %v", len(single), err)
	}

	if _, err := readImages(multipartRequest(t, "/pending", "files", map[string]string{"name": "Eva"})); err == nil {
		t.Error("a form without photos should fail")
	}

	notMultipart := httptest.NewRequest(http.MethodPost, "/pending", strings.NewReader("{}"))
	notMultipart.Header.Set("Content-Type", "application/json")
	if _, err := readImages(notMultipart); err == nil {
		t.Error("a JSON body should fail")
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var body map[string]string
	parseJSONResponse(t, recorder, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("p1\nINFO forged\r"); got != "p1INFO forged" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}
