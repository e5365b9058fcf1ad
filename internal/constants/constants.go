// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Recognition constants
const (
	// DefaultSimilarityThreshold is the cosine similarity a face must strictly exceed
	// to be accepted as the enrolled identity
	DefaultSimilarityThreshold = 0.70

	// DefaultFaceSize is the square input size (pixels) of the embedding model
	DefaultFaceSize = 160

	// UnknownLabel is rendered for faces below the threshold
	UnknownLabel = "Unknown"

	// DefaultCaptureCount is the number of face crops saved by the capture command
	DefaultCaptureCount = 80
)

// Camera constants
const (
	// FrameWaitTimeoutSeconds is how long a single V4L2 frame wait may block
	FrameWaitTimeoutSeconds = 5

	// MaxConsecutiveTimeouts is how many frame wait timeouts end a capture session
	MaxConsecutiveTimeouts = 10

	// MaxConsecutiveBadFrames is how many undecodable frames in a row end a capture session
	MaxConsecutiveBadFrames = 30
)

// Storage constants
const (
	// DateFormat is the day-first date layout used in every flat file
	DateFormat = "02-01-2006"

	// TimeFormat is the 12-hour clock layout used for new records
	TimeFormat = "03:04:05 PM"

	// QueryDateFormat is the layout accepted by date_from/date_to filters
	QueryDateFormat = "2006-01-02"
)

// Mirror constants
const (
	// DefaultMirrorQueueSize is the number of pending mirror writes kept in memory
	DefaultMirrorQueueSize = 256
)
