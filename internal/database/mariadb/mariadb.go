// Package mariadb mirrors attendance data into MariaDB or MySQL.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"

	_ "github.com/go-sql-driver/mysql"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool.
func NewPool(cfg *config.MirrorConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Open connects and creates the mirror tables if they are missing.
func Open(ctx context.Context, cfg *config.MirrorConfig) (*Pool, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS attendance (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		date VARCHAR(10) NOT NULL,
		time VARCHAR(16) NOT NULL,
		source VARCHAR(16) NOT NULL DEFAULT 'camera',
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_attendance (name, date, time)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username VARCHAR(255) PRIMARY KEY,
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		created VARCHAR(10) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(36) PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		task TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		date VARCHAR(10) NOT NULL DEFAULT '',
		time VARCHAR(16) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		admin_seen BOOLEAN NOT NULL DEFAULT TRUE,
		employee_seen BOOLEAN NOT NULL DEFAULT FALSE,
		KEY idx_tasks_username (username)
	)`,
	`CREATE TABLE IF NOT EXISTS face_references (
		identity VARCHAR(255) PRIMARY KEY,
		embedding_json MEDIUMBLOB NOT NULL,
		dim INT NOT NULL,
		images INT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
}

func (p *Pool) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create mirror schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}
