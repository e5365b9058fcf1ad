// Package tasks assigns work to employees and tracks status changes.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Task statuses.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// Statuses lists the accepted status values.
var Statuses = []string{StatusPending, StatusInProgress, StatusCompleted}

var (
	ErrNotFound      = errors.New("task not found")
	ErrForbidden     = errors.New("task belongs to another user")
	ErrInvalidStatus = errors.New("invalid task status")
	ErrUnknownUser   = errors.New("unknown user")
	ErrEmptyTask     = errors.New("task text is required")
)

// legacyNamespace derives stable IDs for rows written before tasks had IDs.
var legacyNamespace = uuid.MustParse("6f1c2b0e-8a55-4c0d-9d8e-3f7a2e4b9c11")

const legacyCreatedLayout = "2006-01-02 15:04:05"

// Task is one assignment.
type Task struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	Task         string    `json:"task"`
	Status       string    `json:"status"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Created      time.Time `json:"created"`
	AdminSeen    bool      `json:"admin_seen"`
	EmployeeSeen bool      `json:"employee_seen"`
}

// UserChecker reports whether a user account exists.
type UserChecker interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// Service manages the tasks table.
type Service struct {
	table  *database.Table
	mirror *database.AsyncMirror
	users  UserChecker
	now    func() time.Time
}

// NewService creates a task service. users may be nil to skip the existence check.
func NewService(table *database.Table, mirror *database.AsyncMirror, users UserChecker) *Service {
	return &Service{table: table, mirror: mirror, users: users, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ValidStatus reports whether status is one of Statuses.
func ValidStatus(status string) bool {
	return slices.Contains(Statuses, status)
}

// Assign creates a pending task for user.
func (s *Service) Assign(ctx context.Context, user, text string) (*Task, error) {
	user = strings.TrimSpace(user)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTask
	}
	if user == "" {
		return nil, ErrUnknownUser
	}
	if s.users != nil {
		ok, err := s.users.Exists(ctx, user)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUnknownUser
		}
	}

	now := s.now()
	task := &Task{
		ID:           uuid.NewString(),
		User:         user,
		Task:         text,
		Status:       StatusPending,
		Date:         now.Format(constants.DateFormat),
		Time:         now.Format(constants.TimeFormat),
		Created:      now,
		AdminSeen:    true,
		EmployeeSeen: false,
	}

	if err := s.table.Append(task.row()); err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}
	s.mirror.EnqueueTask(task.record())
	return task, nil
}

// UpdateStatus changes the status of one of user's tasks. An empty id
// selects the user's active task.
func (s *Service) UpdateStatus(ctx context.Context, user, id, status string) (*Task, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updated *Task
	err := s.table.Rewrite(func(rows []database.Row) ([]database.Row, error) {
		all := tasksFromRows(rows)

		idx := -1
		if id == "" {
			idx = activeIndex(all, user)
		} else {
			for i := range all {
				if all[i].ID == id {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			return nil, ErrNotFound
		}
		if all[idx].User != user {
			return nil, ErrForbidden
		}

		now := s.now()
		all[idx].Status = status
		all[idx].Date = now.Format(constants.DateFormat)
		all[idx].Time = now.Format(constants.TimeFormat)
		all[idx].AdminSeen = false
		t := all[idx]
		updated = &t

		return rowsFromTasks(all), nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("update task: %w", err)
	}

	s.mirror.EnqueueTask(updated.record())
	return updated, nil
}

// Active returns the most recently created task of user, or nil.
func (s *Service) Active(ctx context.Context, user string) (*Task, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	idx := activeIndex(all, user)
	if idx < 0 {
		return nil, nil
	}
	return &all[idx], nil
}

// History returns tasks newest first: every task for an admin, otherwise
// only the user's own.
func (s *Service) History(ctx context.Context, user string, isAdmin bool) ([]Task, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Task, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if isAdmin || all[i].User == user {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

// Notification is the result of a notification poll.
type Notification struct {
	New     bool   `json:"new"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count"`
	Tasks   []Task `json:"tasks,omitempty"`
}

// CheckNotifications returns unseen changes for the caller and marks them
// seen. Admins see status updates by employees; employees see new assignments.
func (s *Service) CheckNotifications(ctx context.Context, user string, isAdmin bool) (*Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var changed []Task
	err := s.table.Rewrite(func(rows []database.Row) ([]database.Row, error) {
		all := tasksFromRows(rows)
		for i := range all {
			switch {
			case isAdmin && !all[i].AdminSeen:
				all[i].AdminSeen = true
			case !isAdmin && all[i].User == user && !all[i].EmployeeSeen:
				all[i].EmployeeSeen = true
			default:
				continue
			}
			changed = append(changed, all[i])
		}
		if len(changed) == 0 {
			return rows, nil
		}
		return rowsFromTasks(all), nil
	})
	if err != nil {
		return nil, fmt.Errorf("check notifications: %w", err)
	}

	n := &Notification{Count: len(changed)}
	if len(changed) == 0 {
		return n, nil
	}

	n.New = true
	if isAdmin {
		n.Message = "Employee updated a task"
	} else {
		n.Message = "New Task Assigned!"
	}
	slices.Reverse(changed)
	n.Tasks = changed[:min(len(changed), constants.NotificationScanLimit)]

	for _, t := range changed {
		s.mirror.EnqueueTask(t.record())
	}
	return n, nil
}

func (s *Service) load(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.table.Rows()
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasksFromRows(rows), nil
}

// activeIndex returns the index of the newest task of user, preferring the
// later row when creation times tie.
func activeIndex(all []Task, user string) int {
	idx := -1
	for i := range all {
		if all[i].User != user {
			continue
		}
		if idx < 0 || !all[i].Created.Before(all[idx].Created) {
			idx = i
		}
	}
	return idx
}

func tasksFromRows(rows []database.Row) []Task {
	out := make([]Task, 0, len(rows))
	for _, row := range rows {
		if row["user"] == "" && row["task"] == "" {
			continue
		}
		out = append(out, taskFromRow(row))
	}
	return out
}

func rowsFromTasks(all []Task) []database.Row {
	rows := make([]database.Row, len(all))
	for i := range all {
		rows[i] = all[i].row()
	}
	return rows
}

func taskFromRow(row database.Row) Task {
	t := Task{
		ID:           row["id"],
		User:         row["user"],
		Task:         row["task"],
		Status:       row["status"],
		Date:         row["date"],
		Time:         row["time"],
		AdminSeen:    parseFlag(row["admin_seen"]),
		EmployeeSeen: parseFlag(row["employee_seen"]),
	}
	if c, err := time.Parse(time.RFC3339, row["created"]); err == nil {
		t.Created = c
	} else if c, err := time.ParseInLocation(legacyCreatedLayout, row["created"], time.Local); err == nil {
		t.Created = c
	}
	if t.ID == "" {
		key := t.User + "\x00" + t.Task + "\x00" + row["created"]
		t.ID = uuid.NewSHA1(legacyNamespace, []byte(key)).String()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	return t
}

// parseFlag treats a missing flag as seen so rows from older files do not
// raise notifications.
func parseFlag(s string) bool {
	if s == "" {
		return true
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return true
	}
	return v
}

func (t Task) row() database.Row {
	return database.Row{
		"id":            t.ID,
		"user":          t.User,
		"task":          t.Task,
		"status":        t.Status,
		"date":          t.Date,
		"time":          t.Time,
		"created":       t.Created.Format(time.RFC3339Nano),
		"admin_seen":    strconv.FormatBool(t.AdminSeen),
		"employee_seen": strconv.FormatBool(t.EmployeeSeen),
	}
}

func (t Task) record() database.TaskRecord {
	return database.TaskRecord{
		ID:           t.ID,
		User:         t.User,
		Task:         t.Task,
		Status:       t.Status,
		Date:         t.Date,
		Time:         t.Time,
		Created:      t.Created,
		AdminSeen:    t.AdminSeen,
		EmployeeSeen: t.EmployeeSeen,
	}
}
