// Package users stores employee accounts and authenticates logins.
package users

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"golang.org/x/crypto/bcrypt"
)

// Roles.
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingFields      = errors.New("username and password are required")
)

// User is an account without its password hash.
type User struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Created  string `json:"created,omitempty"`
}

// Service manages the users table. The single admin account comes from
// configuration and is never stored in the table.
type Service struct {
	table         *database.Table
	mirror        *database.AsyncMirror
	adminUser     string
	adminPassword string
	now           func() time.Time
}

// NewService creates a user service.
func NewService(table *database.Table, mirror *database.AsyncMirror, adminUser, adminPassword string) *Service {
	return &Service{
		table:         table,
		mirror:        mirror,
		adminUser:     adminUser,
		adminPassword: adminPassword,
		now:           time.Now,
	}
}

// Add creates an employee account.
func (s *Service) Add(ctx context.Context, username, fullName, password string) (*User, error) {
	username = strings.TrimSpace(username)
	fullName = strings.TrimSpace(fullName)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}
	if strings.EqualFold(username, s.adminUser) {
		return nil, ErrUserExists
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	rec := database.UserRecord{
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		Created:      s.now().Format(constants.DateFormat),
	}

	_, err = s.table.AppendFunc(func(rows []database.Row) ([]database.Row, error) {
		for _, row := range rows {
			if strings.EqualFold(row["Username"], username) {
				return nil, ErrUserExists
			}
		}
		return []database.Row{{
			"Username": rec.Username,
			"FullName": rec.FullName,
			"Password": rec.PasswordHash,
			"Created":  rec.Created,
		}}, nil
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("add user: %w", err)
	}

	s.mirror.EnqueueUser(rec)
	return &User{Username: rec.Username, FullName: rec.FullName, Role: RoleEmployee, Created: rec.Created}, nil
}

// Authenticate checks credentials against the configured admin first and
// then the users table.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if s.adminPassword != "" && username == s.adminUser {
		if subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1 {
			return &User{Username: s.adminUser, FullName: "Administrator", Role: RoleAdmin}, nil
		}
		return nil, ErrInvalidCredentials
	}

	row, err := s.find(ctx, username)
	if err != nil {
		return nil, err
	}
	if row == nil || !VerifyPassword(row["Password"], password) {
		return nil, ErrInvalidCredentials
	}
	return userFromRow(row), nil
}

// Get returns a stored employee, or nil if none exists.
func (s *Service) Get(ctx context.Context, username string) (*User, error) {
	row, err := s.find(ctx, username)
	if err != nil || row == nil {
		return nil, err
	}
	return userFromRow(row), nil
}

// Exists reports whether username is a stored employee.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	u, err := s.Get(ctx, username)
	return u != nil, err
}

// List returns all stored employees sorted by username.
func (s *Service) List(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.table.Rows()
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}

	users := make([]User, 0, len(rows))
	for _, row := range rows {
		if row["Username"] == "" {
			continue
		}
		users = append(users, *userFromRow(row))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Service) find(ctx context.Context, username string) (database.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.table.Rows()
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	for _, row := range rows {
		if row["Username"] == username {
			return row, nil
		}
	}
	return nil, nil
}

func userFromRow(row database.Row) *User {
	return &User{
		Username: row["Username"],
		FullName: row["FullName"],
		Role:     RoleEmployee,
		Created:  row["Created"],
	}
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks a password against a bcrypt hash, or against the
// unsalted SHA-256 hex digests written by older versions of the users file.
func VerifyPassword(stored, password string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	if len(stored) != sha256.Size*2 {
		return false
	}
	sum := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(hex.EncodeToString(sum[:]))) == 1
}
