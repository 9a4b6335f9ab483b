package fingerprint

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ResizeImage shrinks a photo to fit within maxSize while keeping aspect ratio.
// Photos already small enough come back unchanged; shrunk ones are re-encoded as JPEG.
func ResizeImage(data []byte, maxSize int) ([]byte, bool, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", facematch.ErrUndecodableImage, err)
	}

	b := img.Bounds()
	if maxSize <= 0 || max(b.Dx(), b.Dy()) <= maxSize {
		return data, false, nil
	}

	var buf bytes.Buffer
	shrunk := imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
	if err := imaging.Encode(&buf, shrunk, imaging.JPEG, imaging.JPEGQuality(constants.JPEGQuality)); err != nil {
		return nil, false, fmt.Errorf("encode resized photo: %w", err)
	}
	return buf.Bytes(), true, nil
}
