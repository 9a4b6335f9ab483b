package facematch

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNoFaceDetected is returned when an image contains no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFacesDetected is returned when a single-face operation sees more than one face.
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
	// ErrQualityRejected matches every *QualityRejectedError via errors.Is.
	ErrQualityRejected = errors.New("quality rejected")
	// ErrExtractionFailed is returned when no embedding could be produced.
	ErrExtractionFailed = errors.New("embedding extraction failed")
	// ErrPersistenceFailed wraps storage failures during a commit.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrUndecodableImage is returned when image bytes cannot be decoded.
	ErrUndecodableImage = errors.New("undecodable image")
)

// QualityRejectedError carries the human-readable reasons a photo failed the quality gate.
type QualityRejectedError struct {
	Reasons []string
}

func (e *QualityRejectedError) Error() string {
	if len(e.Reasons) == 0 {
		return ErrQualityRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrQualityRejected, strings.Join(e.Reasons, ", "))
}

// Is matches ErrQualityRejected, and ErrNoFaceDetected or ErrMultipleFacesDetected
// when the face count is one of the reasons.
func (e *QualityRejectedError) Is(target error) bool {
	switch target {
	case ErrQualityRejected:
		return true
	case ErrNoFaceDetected, ErrMultipleFacesDetected:
		return slices.Contains(e.Reasons, target.Error())
	}
	return false
}

// RejectionReasons returns the reasons carried by a quality rejection anywhere in err's chain.
func RejectionReasons(err error) []string {
	var qe *QualityRejectedError
	if errors.As(err, &qe) {
		return qe.Reasons
	}
	return nil
}
