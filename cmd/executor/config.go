package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gradeline/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL       = "http://127.0.0.1:8080"
	defaultHTTPTimeout   = 2 * time.Minute
	defaultPollInterval  = 10 * time.Second
	defaultResultTimeout = 30 * time.Second
	defaultHostIDFile    = "data/executor-host-id"
)

// ServerConfig points the agent at the grading server.
type ServerConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig tunes job execution.
type AgentConfig struct {
	HostIDFile    string        `yaml:"hostIDFile"`
	Address       string        `yaml:"address"`
	Info          string        `yaml:"info"`
	WorkDir       string        `yaml:"workDir"`
	KeepWorkDirs  bool          `yaml:"keepWorkDirs"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	ResultTimeout time.Duration `yaml:"resultTimeout"`
}

// AppConfig holds executor agent configuration.
type AppConfig struct {
	Logger logger.Config `yaml:"logger"`
	Server ServerConfig  `yaml:"server"`
	Agent  AgentConfig   `yaml:"agent"`
}

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
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = defaultBaseURL
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = defaultHTTPTimeout
	}
	if cfg.Server.Secret == "" {
		cfg.Server.Secret = os.Getenv("GRADELINE_EXECUTOR_SECRET")
	}
	if cfg.Server.Secret == "" {
		return nil, fmt.Errorf("server.secret is required")
	}
	if cfg.Agent.HostIDFile == "" {
		cfg.Agent.HostIDFile = defaultHostIDFile
	}
	if cfg.Agent.PollInterval == 0 {
		cfg.Agent.PollInterval = defaultPollInterval
	}
	if cfg.Agent.ResultTimeout == 0 {
		cfg.Agent.ResultTimeout = defaultResultTimeout
	}
	return &cfg, nil
}
