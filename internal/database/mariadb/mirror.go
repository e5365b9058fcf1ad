package mariadb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// SaveAttendance inserts an attendance row, ignoring exact duplicates.
func (p *Pool) SaveAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	query := `INSERT IGNORE INTO attendance (name, date, time, source) VALUES (?, ?, ?, ?)`
	if _, err := p.db.ExecContext(ctx, query, rec.Name, rec.Date, rec.Time, rec.Source); err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	return nil
}

// SaveUser upserts a user.
func (p *Pool) SaveUser(ctx context.Context, rec database.UserRecord) error {
	query := `
		INSERT INTO users (username, full_name, password_hash, created) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE full_name = VALUES(full_name), password_hash = VALUES(password_hash)`
	if _, err := p.db.ExecContext(ctx, query, rec.Username, rec.FullName, rec.PasswordHash, rec.Created); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SaveTask upserts a task.
func (p *Pool) SaveTask(ctx context.Context, rec database.TaskRecord) error {
	query := `
		INSERT INTO tasks (id, username, task, status, date, time, created_at, admin_seen, employee_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status), date = VALUES(date), time = VALUES(time),
			admin_seen = VALUES(admin_seen), employee_seen = VALUES(employee_seen)`
	_, err := p.db.ExecContext(ctx, query,
		rec.ID, rec.User, rec.Task, rec.Status, rec.Date, rec.Time,
		rec.Created.UTC(), rec.AdminSeen, rec.EmployeeSeen,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// SaveReference stores the embedding as a JSON list, the way MySQL-backed
// face tools keep vectors without a native vector type.
func (p *Pool) SaveReference(ctx context.Context, rec database.ReferenceRecord) error {
	if len(rec.Embedding) == 0 {
		return errors.New("empty reference embedding")
	}
	data, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
		INSERT INTO face_references (identity, embedding_json, dim, images, updated_at) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			embedding_json = VALUES(embedding_json), dim = VALUES(dim),
			images = VALUES(images), updated_at = VALUES(updated_at)`
	if _, err := p.db.ExecContext(ctx, query, rec.Identity, data, len(rec.Embedding), rec.Images, rec.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("save reference: %w", err)
	}
	return nil
}

var _ database.Mirror = (*Pool)(nil)
