package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
)

func TestNewConfigHandler(t *testing.T) {
	cfg := &config.Config{}

	handler := NewConfigHandler(cfg)

	if handler == nil {
		t.Fatal("expected non-nil handler")
		return
	}

	if handler.config != cfg {
		t.Error("expected handler to hold reference to config")
	}
}

func TestConfigHandler_Get_ReturnsJSON(t *testing.T) {
	handler := NewConfigHandler(&config.Config{})

	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")
}

func TestConfigHandler_Get_ReturnsCaptureSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Recognition.Interval = 150 * time.Millisecond
	cfg.Database.Driver = "sqlite"
	cfg.Storage.Type = "s3"
	cfg.Storage.S3.SecretKey = "hidden"
	handler := NewConfigHandler(cfg)

	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	var result ConfigResponse
	parseJSONResponse(t, recorder, &result)

	if len(result.Poses) != 2 || result.Poses[0] != "center" {
		t.Errorf("unexpected poses: %v", result.Poses)
	}
	if result.MinUploadPhotos != 2 {
		t.Errorf("expected min upload photos 2, got %d", result.MinUploadPhotos)
	}
	if result.RecognitionTickMs != 150 {
		t.Errorf("expected tick 150ms, got %d", result.RecognitionTickMs)
	}
	if result.Quality.PassScore != 55 {
		t.Errorf("expected pass score 55, got %d", result.Quality.PassScore)
	}
	if result.Storage != "s3" || result.Database != "sqlite" {
		t.Errorf("unexpected backends: %s/%s", result.Storage, result.Database)
	}
	if strings.Contains(recorder.Body.String(), "hidden") {
		t.Error("secrets must not be exposed")
	}
}
