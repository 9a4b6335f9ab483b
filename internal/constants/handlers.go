// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Handler constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// DefaultConcurrency is the default number of parallel quality checks
	DefaultConcurrency = 5
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
	// MaxPoolChanges is how many per-person changes the recognition cache
	// applies incrementally before falling back to a full reload
	MaxPoolChanges = 256
)

// File upload constants
const (
	// MaxUploadSize is the maximum multipart upload size in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxFrameSize is the maximum size of a single recognition frame (10MB)
	MaxFrameSize = 10 << 20
)

// Enrollment session constants
const (
	// EnrollmentSessionTTL is how long an idle enrollment session is kept
	EnrollmentSessionTTL = time.Hour

	// EnrollmentSessionSweep is how often idle sessions are pruned
	EnrollmentSessionSweep = 5 * time.Minute
)
