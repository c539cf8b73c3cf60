package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"gradeline/internal/common/storage"
	"gradeline/internal/executor/model"
	"gradeline/internal/executor/repository"
	submodel "gradeline/internal/submission/model"
	subrepo "gradeline/internal/submission/repository"
	subservice "gradeline/internal/submission/service"
	appErr "gradeline/pkg/errors"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultCandidateLimit = 10
	defaultMaxJobBytes    = 64 << 20
)

// ResultRecorder stores test results and drives the submission state machine.
type ResultRecorder interface {
	RecordTestResult(ctx context.Context, in subservice.ResultInput) (*subservice.ResultOutcome, error)
}

// Config holds executor service dependencies and settings.
type Config struct {
	Machines    repository.MachineRepository
	Queue       repository.QueueRepository
	Assignments subrepo.AssignmentRepository
	Storage     storage.ObjectStorage
	Results     ResultRecorder

	CandidateLimit int
	MaxJobBytes    int64
	Now            func() time.Time
}

// ExecutorService implements the executor protocol: registration, job fetch and result post.
type ExecutorService struct {
	machines       repository.MachineRepository
	queue          repository.QueueRepository
	assignments    subrepo.AssignmentRepository
	storage        storage.ObjectStorage
	results        ResultRecorder
	candidateLimit int
	maxJobBytes    int64
	now            func() time.Time
}

// NewExecutorService creates an executor service.
func NewExecutorService(cfg Config) (*ExecutorService, error) {
	if cfg.Machines == nil || cfg.Queue == nil || cfg.Assignments == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result recorder is required")
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = defaultCandidateLimit
	}
	if cfg.MaxJobBytes <= 0 {
		cfg.MaxJobBytes = defaultMaxJobBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExecutorService{
		machines:       cfg.Machines,
		queue:          cfg.Queue,
		assignments:    cfg.Assignments,
		storage:        cfg.Storage,
		results:        cfg.Results,
		candidateLimit: cfg.CandidateLimit,
		maxJobBytes:    cfg.MaxJobBytes,
		now:            cfg.Now,
	}, nil
}

// RegisterInput describes an executor announcing itself.
type RegisterInput struct {
	Host    string
	Address string
	Config  string
}

// Register creates or refreshes a machine. It never touches submissions.
func (s *ExecutorService) Register(ctx context.Context, in RegisterInput) (*model.Machine, error) {
	host := strings.TrimSpace(in.Host)
	if host == "" {
		return nil, appErr.ValidationError("host", "required")
	}
	m, err := s.machines.Upsert(ctx, host, strings.TrimSpace(in.Address), in.Config, s.now().UTC())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "register machine failed")
	}
	logger.Info(ctx, "executor registered", zap.String("host", m.Host), zap.String("machine_id", m.ID))
	return m, nil
}

// Fetch claims the next job for host. A nil job means there is no work.
func (s *ExecutorService) Fetch(ctx context.Context, host string) (*model.Job, error) {
	m, err := s.machine(ctx, host)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.machines.Touch(ctx, m.ID, now); err != nil {
		logger.Warn(ctx, "refresh machine contact failed", zap.String("host", m.Host), zap.Error(err))
	}

	for _, q := range repository.Queues {
		candidates, err := s.queue.Candidates(ctx, m.Host, q, s.candidateLimit)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "select %s jobs failed", q.Name)
		}
		for _, c := range candidates {
			claimed, err := s.queue.Claim(ctx, c.File.ID, c.State, now)
			if err != nil {
				return nil, appErr.Wrapf(err, appErr.DatabaseError, "claim job failed")
			}
			if !claimed {
				continue
			}
			job, err := s.buildJob(ctx, c)
			if err != nil {
				logger.Error(ctx, "build job failed, releasing claim",
					zap.String("file_id", c.File.ID),
					zap.String("submission_id", c.SubmissionID),
					zap.Error(err),
				)
				if _, rerr := s.queue.Requeue(ctx, c.File.ID); rerr != nil {
					logger.Error(ctx, "release claim failed", zap.String("file_id", c.File.ID), zap.Error(rerr))
				}
				return nil, err
			}
			logger.Info(ctx, "job claimed",
				zap.String("host", m.Host),
				zap.String("file_id", job.FileID),
				zap.String("submission_id", job.SubmissionID),
				zap.String("kind", string(job.Kind)),
			)
			return job, nil
		}
	}
	return nil, nil
}

func (s *ExecutorService) buildJob(ctx context.Context, c *model.Candidate) (*model.Job, error) {
	kind, ok := c.Kind()
	if !ok {
		return nil, appErr.Invariant("claimed file %s of submission %s in non-pending state %s", c.File.ID, c.SubmissionID, c.State)
	}
	a, err := s.assignments.GetByID(ctx, nil, c.AssignmentID)
	if err != nil {
		if errors.Is(err, subrepo.ErrAssignmentNotFound) {
			return nil, appErr.Invariant("submission %s references missing assignment %s", c.SubmissionID, c.AssignmentID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load assignment failed")
	}
	content, err := s.readObject(ctx, c.File.ObjectKey)
	if err != nil {
		return nil, err
	}
	job := &model.Job{
		FileID:         c.File.ID,
		SubmissionID:   c.SubmissionID,
		AssignmentID:   a.ID,
		Kind:           kind,
		TimeoutSeconds: int(a.Timeout() / time.Second),
		FileName:       c.File.Name,
		File:           content,
	}
	// Test scripts run on the built submission, so they get the compile command too.
	if kind == submodel.KindCompile || a.CompileTest {
		job.CompileCommand = a.Command()
	}
	if kind == submodel.KindCompile {
		return job, nil
	}
	key := a.ScriptKey(kind)
	if key == "" {
		return nil, appErr.Invariant("assignment %s has no %s script", a.ID, kind)
	}
	script, err := s.readObject(ctx, key)
	if err != nil {
		return nil, err
	}
	job.ScriptName = path.Base(key)
	job.Script = script
	return job, nil
}

func (s *ExecutorService) readObject(ctx context.Context, key string) ([]byte, error) {
	data, err := storage.ReadAll(ctx, s.storage, key, s.maxJobBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErr.Invariant("object %s is missing", key)
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "read object %s failed", key)
	}
	return data, nil
}

// ResultPost is a result as posted by an executor.
type ResultPost struct {
	Host     string
	FileID   string
	Kind     string
	Result   string
	ExitCode int
	PerfData string
}

// PostResult resolves the posting machine and records the result.
func (s *ExecutorService) PostResult(ctx context.Context, in ResultPost) (*subservice.ResultOutcome, error) {
	kind, err := submodel.ParseTestKind(in.Kind)
	if err != nil {
		logger.Warn(ctx, "result with unknown kind rejected", zap.String("file_id", in.FileID), zap.String("kind", in.Kind))
		return nil, appErr.Wrap(err, appErr.UnknownTestKind)
	}
	m, err := s.machine(ctx, in.Host)
	if err != nil {
		return nil, err
	}
	if err := s.machines.Touch(ctx, m.ID, s.now().UTC()); err != nil {
		logger.Warn(ctx, "refresh machine contact failed", zap.String("host", m.Host), zap.Error(err))
	}
	out, err := s.results.RecordTestResult(ctx, subservice.ResultInput{
		FileID:    in.FileID,
		MachineID: m.ID,
		Kind:      kind,
		Result:    in.Result,
		ExitCode:  in.ExitCode,
		PerfData:  in.PerfData,
	})
	if err != nil {
		if code := appErr.GetCode(err); code == appErr.FileNotFound || code == appErr.MalformedResult {
			logger.Warn(ctx, "result rejected", zap.String("host", m.Host), zap.String("file_id", in.FileID), zap.Error(err))
		}
		return nil, err
	}
	return out, nil
}

// StuckJobs lists claims whose result is overdue.
func (s *ExecutorService) StuckJobs(ctx context.Context) ([]*model.StuckJob, error) {
	jobs, err := s.queue.Stuck(ctx, s.now().UTC(), "")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list stuck jobs failed")
	}
	return jobs, nil
}

// Requeue clears the claim of a stuck job so the next fetch can pick it up again.
func (s *ExecutorService) Requeue(ctx context.Context, fileID string) (*model.StuckJob, error) {
	jobs, err := s.queue.Stuck(ctx, s.now().UTC(), fileID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load stuck job failed")
	}
	if len(jobs) == 0 {
		return nil, appErr.Newf(appErr.StuckJobNotFound, "file %s is not stuck", fileID)
	}
	released, err := s.queue.Requeue(ctx, fileID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "requeue failed")
	}
	if !released {
		// The result arrived between the two statements.
		return nil, appErr.Newf(appErr.StuckJobNotFound, "file %s is not stuck", fileID)
	}
	logger.Warn(ctx, "stuck job requeued",
		zap.String("file_id", fileID),
		zap.String("submission_id", jobs[0].SubmissionID),
		zap.Time("fetched_at", jobs[0].FetchedAt),
	)
	return jobs[0], nil
}

// Machines lists all registered machines.
func (s *ExecutorService) Machines(ctx context.Context) ([]*model.Machine, error) {
	list, err := s.machines.List(ctx)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list machines failed")
	}
	return list, nil
}

// EligibleMachines returns the machines that may test an assignment.
func (s *ExecutorService) EligibleMachines(ctx context.Context, assignmentID string) ([]*model.Machine, error) {
	if _, err := s.assignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	assigned, err := s.machines.ListAssigned(ctx, assignmentID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list assigned machines failed")
	}
	if len(assigned) > 0 {
		return assigned, nil
	}
	return s.Machines(ctx)
}

// AssignMachine restricts an assignment to host, in addition to already assigned machines.
func (s *ExecutorService) AssignMachine(ctx context.Context, assignmentID, host string) error {
	if _, err := s.assignment(ctx, assignmentID); err != nil {
		return err
	}
	m, err := s.machine(ctx, host)
	if err != nil {
		return err
	}
	if err := s.machines.Assign(ctx, assignmentID, m.ID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "assign machine failed")
	}
	logger.Info(ctx, "machine assigned", zap.String("assignment_id", assignmentID), zap.String("host", m.Host))
	return nil
}

// UnassignMachine removes host from an assignment. Removing the last machine opens it to all.
func (s *ExecutorService) UnassignMachine(ctx context.Context, assignmentID, host string) error {
	m, err := s.machine(ctx, host)
	if err != nil {
		return err
	}
	removed, err := s.machines.Unassign(ctx, assignmentID, m.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "unassign machine failed")
	}
	if !removed {
		return appErr.Newf(appErr.NotFound, "machine %s is not assigned to %s", host, assignmentID)
	}
	logger.Info(ctx, "machine unassigned", zap.String("assignment_id", assignmentID), zap.String("host", m.Host))
	return nil
}

func (s *ExecutorService) machine(ctx context.Context, host string) (*model.Machine, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, appErr.ValidationError("host", "required")
	}
	m, err := s.machines.GetByHost(ctx, host)
	if err != nil {
		if errors.Is(err, repository.ErrMachineNotFound) {
			logger.Warn(ctx, "unknown executor host", zap.String("host", host))
			return nil, appErr.Newf(appErr.ExecutorUnknown, "host %s is not registered", host)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load machine failed")
	}
	return m, nil
}

func (s *ExecutorService) assignment(ctx context.Context, id string) (*submodel.Assignment, error) {
	a, err := s.assignments.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, subrepo.ErrAssignmentNotFound) {
			return nil, appErr.Newf(appErr.AssignmentNotFound, "assignment %s not found", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load assignment failed")
	}
	return a, nil
}
