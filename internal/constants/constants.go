// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// IoUThreshold is the minimum Intersection over Union required to consider
	// a detected face as the one a caller pointed at
	IoUThreshold = 0.1

	// DefaultSimilarityThreshold is the default minimum cosine similarity for an identity match
	DefaultSimilarityThreshold = 0.60

	// DefaultTieEpsilon is the score gap under which two candidates count as tied
	DefaultTieEpsilon = 1e-4
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for embedding extraction
	WorkerPoolSize = 4

	// MaxImageSize is the maximum dimension (width or height) for stored enrollment photos
	MaxImageSize = 1920

	// JPEGQuality is the encoder quality used for resized photos
	JPEGQuality = 85
)

// Enrollment constants
const (
	// DefaultMinUploadPhotos is the number of passing photos an upload enrollment needs
	DefaultMinUploadPhotos = 3

	// DefaultDuplicateHashDistance is the max pHash Hamming distance for two uploads to count as the same photo
	DefaultDuplicateHashDistance = 4
)
