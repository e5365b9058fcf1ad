package constants

// Handler constants
const (
	// DashboardRecentLogs is the number of attendance rows shown on the dashboard
	DashboardRecentLogs = 10

	// SummaryTopNames is the number of names returned by the attendance summary
	SummaryTopNames = 10

	// NotificationScanLimit is the number of changed tasks returned with a notification
	NotificationScanLimit = 5
)

// Event channel constants
const (
	// PreviewChannelBuffer is the buffer size for camera preview subscribers
	PreviewChannelBuffer = 2
)

// File upload constants
const (
	// MaxUploadSize is the maximum attendance import size in bytes (20MB)
	MaxUploadSize = 20 << 20
)

// Job constants
const (
	// EventChannelBuffer is the buffer size for job event listeners
	EventChannelBuffer = 16
)
