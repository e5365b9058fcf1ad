package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Storage     StorageConfig
	Recognition RecognitionConfig
	Camera      CameraConfig
	FaceServer  FaceServerConfig
	Web         WebConfig
	Auth        AuthConfig
	Mirror      MirrorConfig
}

type StorageConfig struct {
	DataDir        string
	AttendanceFile string
	UsersFile      string
	TasksFile      string
	ReferenceFile  string // enrolled identity's mean embedding (.npy)
	FacesDir       string // training images used by enrollment
}

type RecognitionConfig struct {
	Identity     string  `yaml:"identity"`
	Threshold    float64 `yaml:"threshold"` // similarity must be strictly greater to accept
	FaceSize     int     `yaml:"face_size"` // embedding model input (square)
	CaptureCount int     `yaml:"capture_count"`
}

type CameraConfig struct {
	Device        string `yaml:"device"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	PreviewWidth  int    `yaml:"preview_width"`
	PreviewHeight int    `yaml:"preview_height"`
}

type FaceServerConfig struct {
	URL string // defaults to http://localhost:8000
}

type WebConfig struct {
	Host            string
	Port            int
	SessionSecret   string
	SessionLifetime time.Duration
	AllowedOrigins  []string // CORS whitelist in addition to loopback origins
}

type AuthConfig struct {
	AdminUser     string
	AdminPassword string
	JWTSecret     string
}

// MirrorConfig configures the optional best-effort mirror database.
// A URL starting with postgres:// selects PostgreSQL, anything else is treated as a MySQL DSN.
type MirrorConfig struct {
	URL          string
	QueueSize    int
	MaxOpenConns int
	MaxIdleConns int
}

// IsPostgres reports whether the mirror URL points at PostgreSQL.
func (m MirrorConfig) IsPostgres() bool {
	return strings.HasPrefix(m.URL, "postgres://") || strings.HasPrefix(m.URL, "postgresql://")
}

type defaults struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Camera      CameraConfig      `yaml:"camera"`
	Session     struct {
		LifetimeMinutes int `yaml:"lifetime_minutes"`
	} `yaml:"session"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// embedded file, a failure here is a build problem
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

func Load() *Config {
	d := loadDefaults()

	dataDir := envString("DATA_DIR", ".")
	inData := func(key, name string) string {
		return envString(key, filepath.Join(dataDir, name))
	}

	return &Config{
		Storage: StorageConfig{
			DataDir:        dataDir,
			AttendanceFile: inData("ATTENDANCE_FILE", "attendance.csv"),
			UsersFile:      inData("USERS_FILE", "users.csv"),
			TasksFile:      inData("TASKS_FILE", "tasks_local.csv"),
			ReferenceFile:  inData("REFERENCE_FILE", filepath.Join("model", "face_embedding.npy")),
			FacesDir:       inData("FACES_DIR", "faces_new"),
		},
		Recognition: RecognitionConfig{
			Identity:     envString("IDENTITY_NAME", d.Recognition.Identity),
			Threshold:    envFloat("RECOGNITION_THRESHOLD", d.Recognition.Threshold),
			FaceSize:     envInt("FACE_SIZE", d.Recognition.FaceSize),
			CaptureCount: envInt("CAPTURE_COUNT", d.Recognition.CaptureCount),
		},
		Camera: CameraConfig{
			Device:        envString("CAMERA_DEVICE", d.Camera.Device),
			Width:         envInt("CAMERA_WIDTH", d.Camera.Width),
			Height:        envInt("CAMERA_HEIGHT", d.Camera.Height),
			PreviewWidth:  envInt("CAMERA_PREVIEW_WIDTH", d.Camera.PreviewWidth),
			PreviewHeight: envInt("CAMERA_PREVIEW_HEIGHT", d.Camera.PreviewHeight),
		},
		FaceServer: FaceServerConfig{
			URL: os.Getenv("FACE_SERVER_URL"),
		},
		Web: WebConfig{
			Host:            envString("WEB_HOST", "0.0.0.0"),
			Port:            envInt("WEB_PORT", 5000),
			SessionSecret:   os.Getenv("WEB_SESSION_SECRET"),
			SessionLifetime: time.Duration(envInt("WEB_SESSION_MINUTES", d.Session.LifetimeMinutes)) * time.Minute,
			AllowedOrigins:  envList("WEB_ALLOWED_ORIGINS"),
		},
		Auth: AuthConfig{
			AdminUser:     envString("ADMIN_USER", "admin"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
			JWTSecret:     os.Getenv("JWT_SECRET"),
		},
		Mirror: MirrorConfig{
			URL:          os.Getenv("MIRROR_DATABASE_URL"),
			QueueSize:    envInt("MIRROR_QUEUE_SIZE", 256),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
	}
}
