package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gradeline/internal/agent"
	"gradeline/pkg/utils/contextkey"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/executor.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	once := flag.Bool("once", false, "Handle at most one job and exit")
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

	if err := run(appCfg, *once); err != nil {
		logger.Error(context.Background(), "executor stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig, once bool) error {
	hostID, err := agent.LoadOrCreateHostID(appCfg.Agent.HostIDFile)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = context.WithValue(ctx, contextkey.ExecutorHost, hostID)

	client := agent.NewClient(appCfg.Server.BaseURL, appCfg.Server.Secret, hostID, appCfg.Server.Timeout)
	runner := &agent.Runner{WorkDir: appCfg.Agent.WorkDir, KeepWorkDirs: appCfg.Agent.KeepWorkDirs}
	a := agent.New(client, runner, agent.Config{
		Address:       appCfg.Agent.Address,
		MachineInfo:   agent.MachineInfo(appCfg.Agent.Info),
		PollInterval:  appCfg.Agent.PollInterval,
		ResultTimeout: appCfg.Agent.ResultTimeout,
	})

	if err := a.Register(ctx); err != nil {
		return err
	}
	if once {
		handled, err := a.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info(ctx, "single run finished", zap.Bool("handled_job", handled))
		return nil
	}
	logger.Info(ctx, "executor polling", zap.String("server", appCfg.Server.BaseURL), zap.Duration("interval", appCfg.Agent.PollInterval))
	return a.Loop(ctx)
}
