package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gradeline/internal/executor/model"
	pkgerrors "gradeline/pkg/errors"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

// Protocol is the server side of the executor protocol as the agent sees it.
type Protocol interface {
	Register(ctx context.Context, address, config string) (*model.Machine, error)
	Fetch(ctx context.Context) (*model.Job, error)
	PostResult(ctx context.Context, job *model.Job, out *Outcome) error
}

// Config configures an Agent.
type Config struct {
	Address      string
	MachineInfo  string
	PollInterval time.Duration
	// ResultTimeout bounds posting a result after the job context is gone.
	ResultTimeout time.Duration
}

// Agent polls for jobs, runs them and posts the results.
type Agent struct {
	server Protocol
	runner *Runner
	cfg    Config
}

func New(server Protocol, runner *Runner, cfg Config) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 30 * time.Second
	}
	if runner == nil {
		runner = &Runner{}
	}
	return &Agent{server: server, runner: runner, cfg: cfg}
}

// Register announces the machine to the server.
func (a *Agent) Register(ctx context.Context) error {
	m, err := a.server.Register(ctx, a.cfg.Address, a.cfg.MachineInfo)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	logger.Info(ctx, "registered with server", zap.String("machine_id", m.ID), zap.String("host", m.Host))
	return nil
}

// RunOnce handles at most one job and reports whether there was one.
func (a *Agent) RunOnce(ctx context.Context) (bool, error) {
	job, err := a.server.Fetch(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch: %w", err)
	}
	if job == nil {
		return false, nil
	}
	logger.Info(ctx, "job received",
		zap.String("file_id", job.FileID),
		zap.String("submission_id", job.SubmissionID),
		zap.String("kind", string(job.Kind)),
	)
	out, err := a.runner.Run(ctx, job)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		// Nothing is posted; the claim stays until an operator requeues it.
		return true, fmt.Errorf("run job %s: %w", job.FileID, err)
	}

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ResultTimeout)
	defer cancel()
	if err := a.server.PostResult(postCtx, job, out); err != nil {
		return true, fmt.Errorf("post result for %s: %w", job.FileID, err)
	}
	logger.Info(ctx, "result posted",
		zap.String("file_id", job.FileID),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration),
	)
	return true, nil
}

// Loop polls until ctx is cancelled. Jobs are fetched back to back while there is work.
func (a *Agent) Loop(ctx context.Context) error {
	for {
		busy, err := a.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if pkgerrors.Is(err, pkgerrors.ExecutorUnknown) {
				if rerr := a.Register(ctx); rerr != nil {
					logger.Warn(ctx, "re-register failed", zap.Error(rerr))
				}
			} else {
				logger.Warn(ctx, "poll failed", zap.Error(err))
			}
			busy = false
		}
		if busy {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.PollInterval):
		}
	}
}
