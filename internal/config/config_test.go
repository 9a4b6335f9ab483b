package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected default driver 'sqlite', got '%s'", cfg.Database.Driver)
	}
	if cfg.Storage.Type != "local" {
		t.Errorf("expected default storage 'local', got '%s'", cfg.Storage.Type)
	}
	if cfg.Match.Threshold != 0.60 {
		t.Errorf("expected default threshold 0.60, got %v", cfg.Match.Threshold)
	}
	if cfg.Match.FrameBudget != 700*time.Millisecond {
		t.Errorf("expected default frame budget 700ms, got %v", cfg.Match.FrameBudget)
	}
	if cfg.Recognition.Interval != 100*time.Millisecond {
		t.Errorf("expected default interval 100ms, got %v", cfg.Recognition.Interval)
	}
	if cfg.Enrollment.MinUploadPhotos != 3 {
		t.Errorf("expected default min upload photos 3, got %d", cfg.Enrollment.MinUploadPhotos)
	}
	if cfg.Quality.MinFaceWidthPx != 120 {
		t.Errorf("expected default min face width 120, got %v", cfg.Quality.MinFaceWidthPx)
	}
	if !cfg.Quality.RequireFace {
		t.Error("expected require_face to default to true")
	}
}

func TestLoad_DefaultPoses(t *testing.T) {
	cfg := Load()

	expected := []string{"center", "left", "right", "up"}
	if len(cfg.Enrollment.Poses) != len(expected) {
		t.Fatalf("expected %d poses, got %v", len(expected), cfg.Enrollment.Poses)
	}
	for i, p := range expected {
		if cfg.Enrollment.Poses[i] != p {
			t.Errorf("pose %d: expected '%s', got '%s'", i, p, cfg.Enrollment.Poses[i])
		}
	}
}

func TestLoad_FaceSimThreshold(t *testing.T) {
	t.Setenv("FACE_SIM_THRESHOLD", "0.42")

	cfg := Load()

	if cfg.Match.Threshold != 0.42 {
		t.Errorf("expected threshold 0.42, got %v", cfg.Match.Threshold)
	}
}

func TestLoad_InvalidFaceSimThreshold(t *testing.T) {
	t.Setenv("FACE_SIM_THRESHOLD", "high")

	cfg := Load()

	if cfg.Match.Threshold != 0.60 {
		t.Errorf("expected fallback threshold 0.60, got %v", cfg.Match.Threshold)
	}
}

func TestLoad_CustomEmbeddingDim(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "768")

	cfg := Load()

	if cfg.Embedding.Dim != 768 {
		t.Errorf("expected dim 768, got %d", cfg.Embedding.Dim)
	}
}

func TestLoad_InvalidEmbeddingDim(t *testing.T) {
	tests := []string{"invalid", "-100", "0"}
	for _, val := range tests {
		t.Run(val, func(t *testing.T) {
			t.Setenv("EMBEDDING_DIM", val)

			cfg := Load()

			if cfg.Embedding.Dim != 512 {
				t.Errorf("expected fallback dim 512, got %d", cfg.Embedding.Dim)
			}
		})
	}
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv("RECOGNIZE_BUDGET", "1s")
	t.Setenv("RECOGNITION_INTERVAL", "garbage")
	t.Setenv("EMBEDDING_TIMEOUT", "-5s")

	cfg := Load()

	if cfg.Match.FrameBudget != time.Second {
		t.Errorf("expected frame budget 1s, got %v", cfg.Match.FrameBudget)
	}
	if cfg.Recognition.Interval != 100*time.Millisecond {
		t.Errorf("expected fallback interval 100ms, got %v", cfg.Recognition.Interval)
	}
	if cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("expected fallback timeout 30s, got %v", cfg.Embedding.Timeout)
	}
}

func TestLoad_QualityOverrides(t *testing.T) {
	t.Setenv("QUALITY_REQUIRE_FACE", "false")
	t.Setenv("QUALITY_MIN_SHARPNESS", "150")
	t.Setenv("QUALITY_MIN_BRIGHTNESS", "0")

	cfg := Load()

	if cfg.Quality.RequireFace {
		t.Error("expected require_face false")
	}
	if cfg.Quality.MinSharpness != 150 {
		t.Errorf("expected min sharpness 150, got %v", cfg.Quality.MinSharpness)
	}
	if cfg.Quality.MinBrightness != 0 {
		t.Errorf("expected min brightness 0, got %v", cfg.Quality.MinBrightness)
	}
}

func TestLoad_StorageS3(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "S3")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_BUCKET", "faces")
	t.Setenv("S3_ACCESS_KEY", "minio")
	t.Setenv("S3_SECRET_KEY", "minio123")
	t.Setenv("S3_USE_SSL", "false")

	cfg := Load()

	if cfg.Storage.Type != "s3" {
		t.Errorf("expected storage type 's3', got '%s'", cfg.Storage.Type)
	}
	s3 := cfg.Storage.S3
	if s3.Endpoint != "http://localhost:9000" || s3.Bucket != "faces" {
		t.Errorf("unexpected S3 endpoint/bucket: %+v", s3)
	}
	if s3.AccessKey != "minio" || s3.SecretKey != "minio123" {
		t.Errorf("unexpected S3 credentials: %+v", s3)
	}
	if s3.UseSSL {
		t.Error("expected UseSSL false")
	}
	if s3.Region != "us-east-1" {
		t.Errorf("expected default region 'us-east-1', got '%s'", s3.Region)
	}
}

func TestLoad_PosesOverride(t *testing.T) {
	t.Setenv("ENROLL_POSES", "center, left ,,right")

	cfg := Load()

	if len(cfg.Enrollment.Poses) != 3 || cfg.Enrollment.Poses[1] != "left" {
		t.Errorf("unexpected poses: %v", cfg.Enrollment.Poses)
	}
}

func TestLoad_WebConfig(t *testing.T) {
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg := Load()

	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if len(cfg.Web.AllowedOrigins) != 2 {
		t.Errorf("expected 2 allowed origins, got %v", cfg.Web.AllowedOrigins)
	}
}
