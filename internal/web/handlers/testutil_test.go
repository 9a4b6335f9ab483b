package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/quality"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/review"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Quality:    config.QualityConfig{PassScore: 55},
		Match:      config.MatchConfig{Threshold: 0.6},
		Enrollment: config.EnrollmentConfig{Poses: []string{"center", "left"}, MinUploadPhotos: 2, DuplicateHashDistance: -1},
	}
}

// grayPNG returns a small PNG of one gray level.
func grayPNG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

// brightGate passes photos brighter than mid-gray.
type brightGate struct{}

func (brightGate) Assess(_ context.Context, data []byte, _ quality.Config) (*quality.Verdict, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, facematch.ErrUndecodableImage
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	if r>>8 < 128 {
		return &quality.Verdict{Score: 30, Reasons: []string{quality.ReasonTooDark}}, nil
	}
	return &quality.Verdict{Score: 85, Passed: true, FaceCount: 1}, nil
}

// levelExtractor maps the gray level of a photo onto a unit vector.
var levelExtractor = facematch.ExtractorFunc(func(_ context.Context, data []byte, _ facematch.Box) ([]float32, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, facematch.ErrUndecodableImage
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	v := float32(r>>8) / 255
	return []float32{v, 1 - v, 0}, nil
})

// fixture wires the handlers to an in-memory store and a temp blob directory.
type fixture struct {
	cfg      *config.Config
	store    *mock.MockStore
	blobs    *blob.LocalStore
	bus      *events.Bus
	sessions *enrollment.SessionManager
	pipeline *enrollment.Pipeline
	reviewer *review.Reviewer
	router   chi.Router
	faces    []facematch.Detection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	store := mock.NewMockStore()
	blobs, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error: %v", err)
	}
	bus := events.NewBus()
	gate := brightGate{}

	f := &fixture{cfg: cfg, store: store, blobs: blobs, bus: bus}
	f.sessions = enrollment.NewSessionManager(gate, enrollment.SessionConfig{
		Poses:                 cfg.Enrollment.Poses,
		MinUploadPhotos:       cfg.Enrollment.MinUploadPhotos,
		DuplicateHashDistance: cfg.Enrollment.DuplicateHashDistance,
		Quality:               cfg.Quality,
	})
	f.pipeline = enrollment.NewPipeline(store, blobs, levelExtractor, bus, enrollment.Options{Concurrency: 2})
	f.reviewer = review.NewReviewer(store, blobs, gate, cfg.Quality, f.pipeline, bus)

	detector := facematch.DetectorFunc(func(context.Context, []byte) ([]facematch.Detection, error) {
		return f.faces, nil
	})
	engine := matcher.NewEngine(cfg.Match.Threshold, 0)
	service := recognition.NewService(detector, store, matcher.NewIndependentMatcher(engine, 0), bus, recognition.Options{})
	bus.Handle(service.HandleEvent)

	enroll := NewEnrollHandler(f.sessions, f.pipeline)
	pending := NewPendingHandler(f.reviewer)
	persons := NewPersonsHandler(store, blobs, bus)
	groups := NewGroupsHandler(store, bus)
	admin := NewAdminHandler(store, blobs, bus)

	r := chi.NewRouter()
	r.Post("/quality", NewQualityHandler(gate, cfg.Quality).Check)
	r.Post("/recognize", NewRecognizeHandler(service).Recognize)
	r.Get("/enroll", enroll.List)
	r.Post("/enroll", enroll.Start)
	r.Get("/enroll/{id}", enroll.Status)
	r.Put("/enroll/{id}/info", enroll.Info)
	r.Post("/enroll/{id}/photo", enroll.Photo)
	r.Post("/enroll/{id}/photos", enroll.Photos)
	r.Post("/enroll/{id}/commit", enroll.Commit)
	r.Delete("/enroll/{id}", enroll.Cancel)
	r.Post("/pending", pending.Submit)
	r.Get("/pending", pending.List)
	r.Get("/pending/{id}", pending.Get)
	r.Get("/pending/{id}/review", pending.Review)
	r.Post("/pending/{id}/accept", pending.Accept)
	r.Post("/pending/{id}/reject", pending.Reject)
	r.Post("/pending/accept", pending.BulkAccept)
	r.Get("/persons", persons.List)
	r.Get("/persons/{id}", persons.Get)
	r.Delete("/persons/{id}", persons.Delete)
	r.Get("/persons/{id}/photos/{photo}", persons.Photo)
	r.Delete("/persons/{id}/photos/{photo}", persons.DeletePhoto)
	r.Get("/groups", groups.List)
	r.Post("/groups", groups.Create)
	r.Get("/groups/{id}", groups.Get)
	r.Put("/groups/{id}", groups.Update)
	r.Delete("/groups/{id}", groups.Delete)
	r.Put("/groups/{id}/members/{personId}", groups.AddMember)
	r.Delete("/groups/{id}/members/{personId}", groups.RemoveMember)
	r.Get("/stats", admin.Stats)
	r.Post("/clear", admin.Clear)
	f.router = r
	return f
}

// do sends a request through the fixture router.
func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest builds a multipart form with text fields and files under the given part name.
func multipartRequest(t *testing.T, path, part string, fields map[string]string, files ...[]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for i, data := range files {
		fw, err := mw.CreateFormFile(part, "photo"+string(rune('a'+i))+".png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
