package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/mq"
	"gradeline/internal/notify/mail"
	"gradeline/internal/notify/service"
	subservice "gradeline/internal/submission/service"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/notifier.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "notifier stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dedup cache.BasicOps
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		dedup = redisCache
	} else {
		logger.Warn(ctx, "redis not configured, event dedup is process-local")
	}

	mailer, err := mail.FromConfig(appCfg.SMTP)
	if err != nil {
		return fmt.Errorf("init mailer failed: %w", err)
	}
	notifier, err := service.NewNotifier(service.Config{
		Mailer:   mailer,
		Dedup:    dedup,
		DedupTTL: appCfg.DedupTTL,
		BaseURL:  appCfg.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("init notifier failed: %w", err)
	}

	queue, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		return fmt.Errorf("init kafka failed: %w", err)
	}
	defer func() {
		_ = queue.Close()
	}()

	topic := appCfg.Consumer.Topic
	if topic == "" {
		topic = subservice.DefaultTransitionTopic
	}
	opts := appCfg.Consumer.toSubscribeOptions()
	opts.SetDefaults()
	if err := queue.Subscribe(ctx, topic, notifier.HandleMessage, &opts); err != nil {
		return fmt.Errorf("subscribe %s failed: %w", topic, err)
	}
	if err := queue.Start(); err != nil {
		return fmt.Errorf("start kafka consumer failed: %w", err)
	}
	logger.Info(ctx, "notifier started", zap.String("topic", topic), zap.String("group", opts.ConsumerGroup))

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")
	return queue.Stop()
}
