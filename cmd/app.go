package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/faceapi"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/tasks"
	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/kozaktomas/face-attendance/internal/vector"
)

const mirrorDrainTimeout = 10 * time.Second

// app holds the services shared by the commands.
type app struct {
	cfg        *config.Config
	mirror     *database.AsyncMirror
	pgPool     *postgres.Pool
	faces      *faceapi.Client
	attendance *attendance.Service
	users      *users.Service
	tasks      *tasks.Service
	recognizer *recognition.Recognizer
	enroller   *recognition.Enroller
}

// openMirror connects the optional mirror database. Connection failures are
// reported but never fatal: the local files stay the source of truth.
func openMirror(ctx context.Context, cfg *config.Config) (*database.AsyncMirror, *postgres.Pool) {
	if cfg.Mirror.URL == "" {
		return database.NewAsyncMirror(nil, 0), nil
	}

	if cfg.Mirror.IsPostgres() {
		fmt.Printf("Connecting to PostgreSQL mirror...\n")
		pool, err := postgres.Open(ctx, &cfg.Mirror)
		if err != nil {
			fmt.Printf("Warning: PostgreSQL mirror disabled: %v\n", err)
			return database.NewAsyncMirror(nil, 0), nil
		}
		return database.NewAsyncMirror(postgres.NewMirrorRepository(pool), cfg.Mirror.QueueSize), pool
	}

	fmt.Printf("Connecting to MariaDB mirror...\n")
	pool, err := mariadb.Open(ctx, &cfg.Mirror)
	if err != nil {
		fmt.Printf("Warning: MariaDB mirror disabled: %v\n", err)
		return database.NewAsyncMirror(nil, 0), nil
	}
	return database.NewAsyncMirror(pool, cfg.Mirror.QueueSize), nil
}

// newApp wires the local tables, the mirror and the face pipeline.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	mirror, pgPool := openMirror(ctx, cfg)

	a := &app{
		cfg:    cfg,
		mirror: mirror,
		pgPool: pgPool,
		faces:  faceapi.NewClient(cfg.FaceServer.URL),
	}

	a.attendance = attendance.NewService(database.NewTable(cfg.Storage.AttendanceFile, database.AttendanceColumns), mirror)
	a.users = users.NewService(database.NewTable(cfg.Storage.UsersFile, database.UserColumns), mirror, cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
	a.tasks = tasks.NewService(database.NewTable(cfg.Storage.TasksFile, database.TaskColumns), mirror, a.users)

	// A missing reference is fine until someone starts recognition
	ref, err := vector.LoadReference(cfg.Storage.ReferenceFile)
	if err != nil && !errors.Is(err, vector.ErrNoReference) {
		a.close()
		return nil, fmt.Errorf("loading reference embedding: %w", err)
	}

	a.recognizer = recognition.NewRecognizer(a.faces, a.faces, a.attendance, ref, recognition.Options{
		Identity:  cfg.Recognition.Identity,
		Threshold: cfg.Recognition.Threshold,
		FaceSize:  cfg.Recognition.FaceSize,

		PreviewWidth:  cfg.Camera.PreviewWidth,
		PreviewHeight: cfg.Camera.PreviewHeight,
	})
	a.enroller = recognition.NewEnroller(a.faces, a.faces, cfg.Recognition.FaceSize, cfg.Recognition.Identity, mirror)
	return a, nil
}

// camera returns a capture manager for the configured webcam.
func (a *app) camera() *capture.Manager {
	return capture.NewManager(capture.OpenWebcam(capture.Options{
		Device: a.cfg.Camera.Device,
		Width:  a.cfg.Camera.Width,
		Height: a.cfg.Camera.Height,
	}))
}

// close drains pending mirror writes and closes the mirror connection.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorDrainTimeout)
	defer cancel()

	if n := a.mirror.Dropped(); n > 0 {
		fmt.Printf("Warning: %d mirror writes were dropped\n", n)
	}
	if err := a.mirror.Close(ctx); err != nil {
		fmt.Printf("Warning: closing mirror: %v\n", err)
	}
}
