package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    []float64
		bbox2    []float64
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			bbox1:    []float64{0, 0, 20, 20},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 100.0 / 400.0, // intersection=100, union=400 (larger box)
		},
		{
			name:     "invalid bbox1",
			bbox1:    []float64{0, 0, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "empty bboxes",
			bbox1:    []float64{},
			bbox2:    []float64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
		})
	}
}

func TestRollDegrees(t *testing.T) {
	tests := []struct {
		name      string
		landmarks []Point
		expected  float64
		ok        bool
	}{
		{
			name:      "level eyes",
			landmarks: []Point{{X: 10, Y: 50}, {X: 60, Y: 50}},
			expected:  0,
			ok:        true,
		},
		{
			name:      "tilted 45 degrees",
			landmarks: []Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
			expected:  45,
			ok:        true,
		},
		{
			name:      "swapped eye order reads as level",
			landmarks: []Point{{X: 60, Y: 50}, {X: 10, Y: 50}},
			expected:  0,
			ok:        true,
		},
		{
			name:      "tilted the other way",
			landmarks: []Point{{X: 0, Y: 10}, {X: 10, Y: 0}},
			expected:  45,
			ok:        true,
		},
		{
			name:      "single landmark",
			landmarks: []Point{{X: 1, Y: 1}},
			ok:        false,
		},
		{
			name:      "coincident eyes",
			landmarks: []Point{{X: 5, Y: 5}, {X: 5, Y: 5}},
			ok:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RollDegrees(tt.landmarks)
			if ok != tt.ok {
				t.Fatalf("RollDegrees() ok = %v, want %v", ok, tt.ok)
			}
			if ok && math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("RollDegrees() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBoxClamp(t *testing.T) {
	b := Box{X1: -10, Y1: 5, X2: 700, Y2: 500}
	got := b.Clamp(640, 480)
	want := Box{X1: 0, Y1: 5, X2: 640, Y2: 480}
	if got != want {
		t.Errorf("Clamp() = %+v, want %+v", got, want)
	}
	if got.Width() != 640 || got.Height() != 475 {
		t.Errorf("clamped size = %vx%v, want 640x475", got.Width(), got.Height())
	}
}

func TestBoxEmpty(t *testing.T) {
	if !(Box{}).IsEmpty() {
		t.Error("zero box should be empty")
	}
	if (Box{X2: 1, Y2: 1}).IsEmpty() {
		t.Error("unit box should not be empty")
	}
	inverted := Box{X1: 10, Y1: 10, X2: 5, Y2: 5}
	if !inverted.IsEmpty() {
		t.Error("inverted box should be empty")
	}
}

func TestLargestDetection(t *testing.T) {
	dets := []Detection{
		{Box: Box{X2: 10, Y2: 10}},
		{Box: Box{X2: 50, Y2: 40}},
		{Box: Box{X2: 20, Y2: 20}},
	}
	if got := LargestDetection(dets); got != 1 {
		t.Errorf("LargestDetection() = %d, want 1", got)
	}
	if got := LargestDetection(nil); got != -1 {
		t.Errorf("LargestDetection(nil) = %d, want -1", got)
	}
}

func TestBestOverlap(t *testing.T) {
	dets := []Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{Box: Box{X1: 100, Y1: 100, X2: 150, Y2: 150}},
	}
	if got := BestOverlap(dets, Box{X1: 105, Y1: 102, X2: 148, Y2: 151}); got != 1 {
		t.Errorf("BestOverlap() = %d, want 1", got)
	}
	if got := BestOverlap(dets, Box{X1: 500, Y1: 500, X2: 510, Y2: 510}); got != -1 {
		t.Errorf("BestOverlap() with no overlap = %d, want -1", got)
	}
}
