package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/mq"
	"gradeline/internal/notify/mail"
	"gradeline/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConsumerGroup = "gradeline-notifier"
	defaultConcurrency   = 2
	defaultDedupTTL      = 7 * 24 * time.Hour
)

// ConsumerConfig tunes the transition event subscription.
type ConsumerConfig struct {
	Topic           string        `yaml:"topic"`
	Group           string        `yaml:"group"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

func (c ConsumerConfig) toSubscribeOptions() mq.SubscribeOptions {
	return mq.SubscribeOptions{
		ConsumerGroup:   c.Group,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
	}
}

// AppConfig holds notifier configuration.
type AppConfig struct {
	Logger   logger.Config     `yaml:"logger"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Consumer ConsumerConfig    `yaml:"consumer"`
	Redis    cache.RedisConfig `yaml:"redis"`
	SMTP     mail.SMTPConfig   `yaml:"smtp"`
	DedupTTL time.Duration     `yaml:"dedupTTL"`
	BaseURL  string            `yaml:"baseURL"`
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
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers is required")
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = defaultConsumerGroup
	}
	if cfg.Consumer.Concurrency == 0 {
		cfg.Consumer.Concurrency = defaultConcurrency
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &cfg, nil
}
