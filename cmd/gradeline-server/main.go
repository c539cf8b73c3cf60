package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"
	"gradeline/internal/common/mq"
	"gradeline/internal/common/storage"
	exrepo "gradeline/internal/executor/repository"
	exservice "gradeline/internal/executor/service"
	"gradeline/internal/notify/mail"
	notifyservice "gradeline/internal/notify/service"
	subrepo "gradeline/internal/submission/repository"
	subservice "gradeline/internal/submission/service"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/gradeline.yaml"

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
		logger.Error(context.Background(), "gradeline server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	database, err := openDatabase(appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()
	if appCfg.Database.Migrate {
		if err := subrepo.Migrate(ctx, database); err != nil {
			return err
		}
	}

	var cacheOps cache.BasicOps
	var locker cache.Locker = cache.NewLocalLocker()
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		cacheOps = redisCache
		locker = cache.NewRedisLocker(redisCache)
	} else {
		logger.Warn(ctx, "redis not configured, using process-local locks")
	}

	objects, err := openStorage(ctx, appCfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage failed: %w", err)
	}

	events, stopEvents, err := openEvents(appCfg, cacheOps)
	if err != nil {
		return fmt.Errorf("init events failed: %w", err)
	}
	defer stopEvents()

	submissions := subrepo.NewSubmissionRepositoryWithTTL(database, cacheOps, appCfg.Submission.CacheTTL, appCfg.Submission.EmptyTTL)
	files := subrepo.NewFileRepository(database)
	results := subrepo.NewResultRepository(database)
	assignments := subrepo.NewAssignmentRepository(database, cacheOps)

	submissionService, err := subservice.NewSubmissionService(subservice.Config{
		DB:           database,
		Submissions:  submissions,
		Files:        files,
		Results:      results,
		Assignments:  assignments,
		Storage:      objects,
		Locker:       locker,
		Events:       events,
		KeyPrefix:    appCfg.Submission.KeyPrefix,
		MaxFileBytes: appCfg.Submission.MaxFileBytes,
		LockTTL:      appCfg.Submission.LockTTL,
		LockWait:     appCfg.Submission.LockWait,
	})
	if err != nil {
		return fmt.Errorf("init submission service failed: %w", err)
	}
	assignmentService := subservice.NewAssignmentService(assignments, submissions, results, objects)

	executorService, err := exservice.NewExecutorService(exservice.Config{
		Machines:       exrepo.NewMachineRepository(database),
		Queue:          exrepo.NewQueueRepository(database),
		Assignments:    assignments,
		Storage:        objects,
		Results:        submissionService,
		CandidateLimit: appCfg.Executor.CandidateLimit,
		MaxJobBytes:    appCfg.Executor.MaxJobBytes,
	})
	if err != nil {
		return fmt.Errorf("init executor service failed: %w", err)
	}

	router := newRouter(routerDeps{
		Auth:        appCfg.Auth,
		Executor:    appCfg.Executor,
		Submissions: submissionService,
		Assignments: assignmentService,
		Executors:   executorService,
	})
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gradeline http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("database", appCfg.Database.Driver),
			zap.String("storage", appCfg.Storage.Driver),
			zap.String("events", appCfg.Events.Driver),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return serveErr
}

func openDatabase(cfg DatabaseConfig) (*db.SQLDatabase, error) {
	switch cfg.Driver {
	case "mysql":
		return db.NewMySQL(cfg.MySQL)
	case "postgres":
		return db.NewPostgreSQL(cfg.PostgreSQL)
	default:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return db.NewSQLite(cfg.SQLite)
	}
}

func openStorage(ctx context.Context, cfg StorageConfig) (storage.ObjectStorage, error) {
	if cfg.Driver == "minio" {
		return storage.NewMinIOStorage(ctx, cfg.MinIO)
	}
	return storage.NewLocalStorage(cfg.LocalDir)
}

// openEvents wires the transition event publisher. With the memory driver
// an in-process notifier consumes the events.
func openEvents(appCfg *AppConfig, dedup cache.BasicOps) (subservice.EventPublisher, func(), error) {
	topic := appCfg.Events.Topic
	if topic == "" {
		topic = subservice.DefaultTransitionTopic
	}
	switch appCfg.Events.Driver {
	case "kafka":
		queue, err := mq.NewKafkaQueue(appCfg.Events.Kafka)
		if err != nil {
			return nil, nil, err
		}
		return subservice.NewMQPublisher(queue, topic), func() { _ = queue.Close() }, nil
	case "memory":
		mailer, err := mail.FromConfig(appCfg.Notify.SMTP)
		if err != nil {
			return nil, nil, err
		}
		notifier, err := notifyservice.NewNotifier(notifyservice.Config{
			Mailer:  mailer,
			Dedup:   dedup,
			BaseURL: appCfg.Notify.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		queue := mq.NewMemoryQueue()
		publisher := subservice.NewMQPublisher(queue, topic)
		if err := queue.Subscribe(context.Background(), topic, notifier.HandleMessage, &mq.SubscribeOptions{}); err != nil {
			return nil, nil, err
		}
		if err := queue.Start(); err != nil {
			return nil, nil, err
		}
		return publisher, func() { _ = queue.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
