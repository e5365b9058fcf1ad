package database

import "time"

// Column layouts of the local tables.
var (
	AttendanceColumns = []string{"Name", "Date", "Time"}
	UserColumns       = []string{"Username", "FullName", "Password", "Created"}
	TaskColumns       = []string{"id", "user", "task", "status", "date", "time", "created", "admin_seen", "employee_seen"}
)

// mirrorWriteTimeout bounds a single backend write on the mirror worker.
const mirrorWriteTimeout = 10 * time.Second
