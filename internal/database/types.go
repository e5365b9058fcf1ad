package database

import (
	"time"
)

// Attendance sources. The source is carried to the mirror but not to the CSV file.
const (
	SourceCamera = "camera"
	SourceManual = "manual"
	SourceImport = "import"
)

// AttendanceRecord is one row of the attendance log.
type AttendanceRecord struct {
	Name   string
	Date   string // DD-MM-YYYY
	Time   string // hh:mm:ss AM/PM
	Source string
}

// UserRecord is a stored employee account.
type UserRecord struct {
	Username     string
	FullName     string
	PasswordHash string
	Created      string
}

// TaskRecord is a task assigned to an employee.
type TaskRecord struct {
	ID           string
	User         string
	Task         string
	Status       string
	Date         string
	Time         string
	Created      time.Time
	AdminSeen    bool
	EmployeeSeen bool
}

// ReferenceRecord is the enrolled reference embedding of one identity.
type ReferenceRecord struct {
	Identity  string
	Embedding []float64
	Images    int
	UpdatedAt time.Time
}
