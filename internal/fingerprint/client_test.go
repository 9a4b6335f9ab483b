package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func newTestServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing multipart file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if len(data) == 0 {
				t.Error("empty multipart file")
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func twoFaces() FaceResponse {
	return FaceResponse{
		FacesCount: 2,
		Model:      "buffalo_l",
		Faces: []FaceDetection{
			{FaceIndex: 0, Dim: 3, Embedding: []float32{3, 4, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9,
				Kps: [][]float64{{10, 20}, {40, 20}}},
			{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 0, 2}, BBox: []float64{100, 100, 300, 300}, DetScore: 0.8},
		},
	}
}

func TestClient_Detect(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, twoFaces())
	c := NewClient(&config.EmbeddingConfig{URL: srv.URL, Timeout: 5 * time.Second})

	dets, err := c.Detect(context.Background(), encodeJPEG(t, portrait(20, 20), 90))
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].Box.X2 != 50 || len(dets[0].Landmarks) != 2 {
		t.Errorf("unexpected first detection: %+v", dets[0])
	}
	if !facematch.IsNormalized(dets[0].Embedding) {
		t.Errorf("embedding not normalized: %v", dets[0].Embedding)
	}
}

func TestClient_Extract(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, twoFaces())
	c := NewClient(&config.EmbeddingConfig{URL: srv.URL, Dim: 3})
	img := encodeJPEG(t, portrait(20, 20), 90)

	t.Run("largest face when box empty", func(t *testing.T) {
		emb, err := c.Extract(context.Background(), img, facematch.Box{})
		if err != nil {
			t.Fatalf("Extract() error: %v", err)
		}
		if emb[2] != 1 {
			t.Errorf("expected largest face embedding, got %v", emb)
		}
	})

	t.Run("best overlap with box", func(t *testing.T) {
		emb, err := c.Extract(context.Background(), img, facematch.Box{X1: 5, Y1: 5, X2: 45, Y2: 45})
		if err != nil {
			t.Fatalf("Extract() error: %v", err)
		}
		if emb[0] < 0.59 || emb[0] > 0.61 {
			t.Errorf("expected normalized first embedding, got %v", emb)
		}
	})

	t.Run("box without face", func(t *testing.T) {
		_, err := c.Extract(context.Background(), img, facematch.Box{X1: 600, Y1: 600, X2: 700, Y2: 700})
		if !errors.Is(err, facematch.ErrNoFaceDetected) {
			t.Errorf("error = %v, want ErrNoFaceDetected", err)
		}
	})
}

func TestClient_ExtractDimensionMismatch(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, twoFaces())
	c := NewClient(&config.EmbeddingConfig{URL: srv.URL, Dim: 512})

	_, err := c.Extract(context.Background(), encodeJPEG(t, portrait(20, 20), 90), facematch.Box{})
	if !errors.Is(err, facematch.ErrExtractionFailed) {
		t.Errorf("error = %v, want ErrExtractionFailed", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, map[string]string{"detail": "model not loaded"})
	c := NewClient(&config.EmbeddingConfig{URL: srv.URL})

	_, err := c.Extract(context.Background(), encodeJPEG(t, portrait(20, 20), 90), facematch.Box{})
	if !errors.Is(err, facematch.ErrExtractionFailed) {
		t.Errorf("error = %v, want ErrExtractionFailed", err)
	}
}

func TestClient_NoFaces(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, FaceResponse{})
	c := NewClient(&config.EmbeddingConfig{URL: srv.URL})

	_, err := c.Extract(context.Background(), encodeJPEG(t, portrait(20, 20), 90), facematch.Box{})
	if !errors.Is(err, facematch.ErrNoFaceDetected) {
		t.Errorf("error = %v, want ErrNoFaceDetected", err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mime string
		ext  string
	}{
		{"jpeg", encodeJPEG(t, portrait(4, 4), 90), "image/jpeg", ".jpg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png", ".png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp", ".webp"},
		{"short", []byte{1, 2}, "application/octet-stream", ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.mime {
				t.Errorf("detectMIMEType() = %s, want %s", got, tt.mime)
			}
			if got := ExtensionFor(tt.data); got != tt.ext {
				t.Errorf("ExtensionFor() = %s, want %s", got, tt.ext)
			}
		})
	}
}
