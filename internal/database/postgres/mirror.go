package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/vector"
	"github.com/pgvector/pgvector-go"
)

// MirrorRepository implements database.Mirror on PostgreSQL.
type MirrorRepository struct {
	pool *Pool
}

// NewMirrorRepository creates a new PostgreSQL mirror
func NewMirrorRepository(pool *Pool) *MirrorRepository {
	return &MirrorRepository{pool: pool}
}

// SaveAttendance inserts an attendance row. Rows already present for the same
// name, date and time are not duplicated.
func (r *MirrorRepository) SaveAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	query := `
		INSERT INTO attendance (name, date, time, source)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM attendance WHERE name = $1 AND date = $2 AND time = $3
		)
	`
	if _, err := r.pool.Exec(ctx, query, rec.Name, rec.Date, rec.Time, rec.Source); err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	return nil
}

// SaveUser upserts a user
func (r *MirrorRepository) SaveUser(ctx context.Context, rec database.UserRecord) error {
	query := `
		INSERT INTO users (username, full_name, password_hash, created)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			password_hash = EXCLUDED.password_hash
	`
	if _, err := r.pool.Exec(ctx, query, rec.Username, rec.FullName, rec.PasswordHash, rec.Created); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SaveTask upserts a task
func (r *MirrorRepository) SaveTask(ctx context.Context, rec database.TaskRecord) error {
	query := `
		INSERT INTO tasks (id, username, task, status, date, time, created_at, admin_seen, employee_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			date = EXCLUDED.date,
			time = EXCLUDED.time,
			admin_seen = EXCLUDED.admin_seen,
			employee_seen = EXCLUDED.employee_seen
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.User, rec.Task, rec.Status, rec.Date, rec.Time,
		rec.Created, rec.AdminSeen, rec.EmployeeSeen,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// SaveReference replaces the reference embedding of an identity
func (r *MirrorRepository) SaveReference(ctx context.Context, rec database.ReferenceRecord) error {
	if len(rec.Embedding) == 0 {
		return errors.New("empty reference embedding")
	}

	query := `
		INSERT INTO face_references (identity, embedding, dim, images, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			images = EXCLUDED.images,
			updated_at = EXCLUDED.updated_at
	`
	vec := pgvector.NewVector(vector.ToFloat32(rec.Embedding))
	if _, err := r.pool.Exec(ctx, query, rec.Identity, vec, len(rec.Embedding), rec.Images, rec.UpdatedAt); err != nil {
		return fmt.Errorf("save reference: %w", err)
	}
	return nil
}

// GetReference loads the mirrored reference embedding, or nil if none is stored.
func (r *MirrorRepository) GetReference(ctx context.Context, identity string) (*database.ReferenceRecord, error) {
	query := `SELECT identity, embedding, images, updated_at FROM face_references WHERE identity = $1`

	var rec database.ReferenceRecord
	var vec pgvector.Vector
	err := r.pool.QueryRow(ctx, query, identity).Scan(&rec.Identity, &vec, &rec.Images, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reference: %w", err)
	}
	rec.Embedding = vector.FromFloat32(vec.Slice())
	return &rec, nil
}

// CountAttendance returns the number of mirrored attendance rows for a name.
func (r *MirrorRepository) CountAttendance(ctx context.Context, name string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance WHERE name = $1", name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return n, nil
}

// Close closes the underlying pool
func (r *MirrorRepository) Close() error {
	return r.pool.Close()
}

var _ database.Mirror = (*MirrorRepository)(nil)
