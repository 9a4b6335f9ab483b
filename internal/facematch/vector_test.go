package facematch

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestNormalizeVector(t *testing.T) {
	v := []float32{3, 4}
	got := NormalizeVector(v)
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeVector(%v) = %v, want [0.6 0.8]", v, got)
	}
	if v[0] != 3 {
		t.Error("NormalizeVector modified its input")
	}
	if !IsNormalized(got) {
		t.Error("normalized vector should report IsNormalized")
	}

	zero := NormalizeVector([]float32{0, 0, 0})
	for i, x := range zero {
		if x != 0 {
			t.Errorf("zero vector component %d = %v, want 0", i, x)
		}
	}
}

func TestEnsureNormalized(t *testing.T) {
	unit := []float32{1, 0, 0}
	if got := EnsureNormalized(unit); &got[0] != &unit[0] {
		t.Error("EnsureNormalized should return a unit vector as-is")
	}
	got := EnsureNormalized([]float32{0, 2, 0})
	if got[1] != 1 {
		t.Errorf("EnsureNormalized() = %v, want [0 1 0]", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"clamped above one", []float32{1.0001, 0}, []float32{1.0001, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQualityRejectedError(t *testing.T) {
	err := fmt.Errorf("photo 2: %w", &QualityRejectedError{Reasons: []string{"face too small", "too blurry"}})

	if !errors.Is(err, ErrQualityRejected) {
		t.Error("wrapped QualityRejectedError should match ErrQualityRejected")
	}
	if errors.Is(err, ErrNoFaceDetected) || errors.Is(err, ErrMultipleFacesDetected) {
		t.Error("QualityRejectedError without a face count reason should not match the face count errors")
	}

	reasons := RejectionReasons(err)
	if len(reasons) != 2 || reasons[0] != "face too small" {
		t.Errorf("RejectionReasons() = %v", reasons)
	}
	if RejectionReasons(ErrExtractionFailed) != nil {
		t.Error("RejectionReasons() on unrelated error should be nil")
	}

	want := "photo 2: quality rejected: face too small, too blurry"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestQualityRejectedError_FaceCountReasons(t *testing.T) {
	tests := []struct {
		name         string
		reasons      []string
		wantNoFace   bool
		wantMultiple bool
	}{
		{"no face", []string{ErrNoFaceDetected.Error()}, true, false},
		{"two faces", []string{ErrMultipleFacesDetected.Error(), "too blurry"}, false, true},
		{"other reasons", []string{"image too dark"}, false, false},
		{"no reasons", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("camera frame: %w", &QualityRejectedError{Reasons: tt.reasons})
			if !errors.Is(err, ErrQualityRejected) {
				t.Error("should always match ErrQualityRejected")
			}
			if got := errors.Is(err, ErrNoFaceDetected); got != tt.wantNoFace {
				t.Errorf("errors.Is(ErrNoFaceDetected) = %v, want %v", got, tt.wantNoFace)
			}
			if got := errors.Is(err, ErrMultipleFacesDetected); got != tt.wantMultiple {
				t.Errorf("errors.Is(ErrMultipleFacesDetected) = %v, want %v", got, tt.wantMultiple)
			}
		})
	}
}
