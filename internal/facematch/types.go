// Package facematch provides face primitives shared by the quality gate, the match engine,
// the enrollment pipeline and the HTTP handlers: boxes, landmarks, vectors and the error taxonomy.
package facematch

import "context"

// Detection is a single face found in an image.
type Detection struct {
	Box       Box       `json:"box"`
	Landmarks []Point   `json:"landmarks,omitempty"`
	Score     float64   `json:"score"`
	Embedding []float32 `json:"-"` // set when the detector also computes embeddings
}

// Detector finds faces in encoded image bytes.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) ([]Detection, error)
}

// Extractor turns one face of an already accepted photo into a feature vector.
// An empty box means "the largest face in the photo".
// Implementations return ErrNoFaceDetected or an error wrapping ErrExtractionFailed.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte, face Box) ([]float32, error)
}

// Analyzer detects faces and computes an embedding for each of them in one call.
// Live recognition uses it so a frame is sent to the model only once.
type Analyzer interface {
	Detector
	Extractor
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, imageData []byte) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, imageData []byte) ([]Detection, error) {
	return f(ctx, imageData)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, imageData []byte, face Box) ([]float32, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, imageData []byte, face Box) ([]float32, error) {
	return f(ctx, imageData, face)
}
