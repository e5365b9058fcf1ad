package database

import (
	"context"
)

// Mirror receives copies of local writes. The local CSV files stay the source
// of truth; a mirror is only ever written to.
type Mirror interface {
	// SaveAttendance stores one attendance row
	SaveAttendance(ctx context.Context, rec AttendanceRecord) error
	// SaveUser inserts or updates a user by username
	SaveUser(ctx context.Context, rec UserRecord) error
	// SaveTask inserts or updates a task by ID
	SaveTask(ctx context.Context, rec TaskRecord) error
	// SaveReference replaces the reference embedding of an identity
	SaveReference(ctx context.Context, rec ReferenceRecord) error
	// Close releases the backend connection
	Close() error
}
