package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"
	"gradeline/internal/common/mq"
	"gradeline/internal/common/storage"
	"gradeline/internal/notify/mail"
	"gradeline/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultPollBurst       = 3
	defaultJWTIssuer       = "gradeline"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// DatabaseConfig selects one SQL backend by driver name.
type DatabaseConfig struct {
	Driver     string              `yaml:"driver"` // mysql, postgres, sqlite
	MySQL      db.MySQLConfig      `yaml:"mysql"`
	PostgreSQL db.PostgreSQLConfig `yaml:"postgres"`
	SQLite     db.SQLiteConfig     `yaml:"sqlite"`
	Migrate    bool                `yaml:"migrate"`
}

// StorageConfig selects MinIO or a local directory.
type StorageConfig struct {
	Driver   string              `yaml:"driver"` // minio, local
	LocalDir string              `yaml:"localDir"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
}

// EventsConfig selects the transition event transport. With "memory" the
// notifier runs inside the server process.
type EventsConfig struct {
	Driver string         `yaml:"driver"` // kafka, memory, none
	Topic  string         `yaml:"topic"`
	Kafka  mq.KafkaConfig `yaml:"kafka"`
}

// AuthConfig holds the shared secrets of the three API surfaces.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwtSecret"`
	JWTIssuer      string `yaml:"jwtIssuer"`
	ExecutorSecret string `yaml:"executorSecret"`
	OpsSecret      string `yaml:"opsSecret"`
}

// ExecutorConfig tunes the executor protocol.
type ExecutorConfig struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	PollBurst      int           `yaml:"pollBurst"`
	CandidateLimit int           `yaml:"candidateLimit"`
	MaxJobBytes    int64         `yaml:"maxJobBytes"`
}

// SubmissionConfig tunes the submission service.
type SubmissionConfig struct {
	KeyPrefix    string        `yaml:"keyPrefix"`
	MaxFileBytes int64         `yaml:"maxFileBytes"`
	LockTTL      time.Duration `yaml:"lockTTL"`
	LockWait     time.Duration `yaml:"lockWait"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	EmptyTTL     time.Duration `yaml:"emptyTTL"`
}

// NotifyConfig configures the embedded notifier used with memory events.
type NotifyConfig struct {
	SMTP    mail.SMTPConfig `yaml:"smtp"`
	BaseURL string          `yaml:"baseURL"`
}

// AppConfig holds gradeline-server configuration.
type AppConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Logger     logger.Config     `yaml:"logger"`
	Database   DatabaseConfig    `yaml:"database"`
	Redis      cache.RedisConfig `yaml:"redis"`
	Storage    StorageConfig     `yaml:"storage"`
	Events     EventsConfig      `yaml:"events"`
	Auth       AuthConfig        `yaml:"auth"`
	Executor   ExecutorConfig    `yaml:"executor"`
	Submission SubmissionConfig  `yaml:"submission"`
	Notify     NotifyConfig      `yaml:"notify"`
}

// loadYAML loads an optional .env next to the process, then decodes path
// with ${VAR} references expanded from the environment.
func loadYAML(path string, out interface{}) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "data/gradeline.db"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "local"
	}
	if cfg.Storage.Driver == "local" && cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "data/objects"
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "memory"
	}

	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = defaultJWTIssuer
	}
	if cfg.Executor.PollInterval == 0 {
		cfg.Executor.PollInterval = defaultPollInterval
	}
	if cfg.Executor.PollBurst == 0 {
		cfg.Executor.PollBurst = defaultPollBurst
	}
	if cfg.Submission.CacheTTL == 0 {
		cfg.Submission.CacheTTL = 10 * time.Minute
	}
	if cfg.Submission.EmptyTTL == 0 {
		cfg.Submission.EmptyTTL = time.Minute
	}
}

func validate(cfg *AppConfig) error {
	switch cfg.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	switch cfg.Storage.Driver {
	case "minio", "local":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	switch cfg.Events.Driver {
	case "kafka", "memory", "none":
	default:
		return fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
	}
	if cfg.Auth.ExecutorSecret == "" {
		return fmt.Errorf("auth.executorSecret is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required")
	}
	return nil
}
