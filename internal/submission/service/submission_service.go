package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"
	"gradeline/internal/common/storage"
	"gradeline/internal/submission/model"
	"gradeline/internal/submission/repository"
	appErr "gradeline/pkg/errors"
	"gradeline/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix    = "submissions"
	defaultMaxFileBytes = 32 << 20
	defaultLockTTL      = 30 * time.Second
	defaultLockWait     = 5 * time.Second
	lockKeyPrefix       = "gradeline:lock:submission:"
)

// Config holds submission service dependencies and settings.
type Config struct {
	DB          db.Database
	Submissions repository.SubmissionRepository
	Files       repository.FileRepository
	Results     repository.ResultRepository
	Assignments repository.AssignmentRepository
	Storage     storage.ObjectStorage
	Locker      cache.Locker
	Events      EventPublisher

	KeyPrefix    string
	MaxFileBytes int64
	LockTTL      time.Duration
	LockWait     time.Duration
	Now          func() time.Time
}

// SubmissionService owns every submission state change.
type SubmissionService struct {
	db          db.Database
	submissions repository.SubmissionRepository
	files       repository.FileRepository
	results     repository.ResultRepository
	assignments repository.AssignmentRepository
	storage     storage.ObjectStorage
	locker      cache.Locker
	events      EventPublisher

	keyPrefix    string
	maxFileBytes int64
	lockTTL      time.Duration
	lockWait     time.Duration
	now          func() time.Time
}

// NewSubmissionService creates a submission service.
func NewSubmissionService(cfg Config) (*SubmissionService, error) {
	switch {
	case cfg.DB == nil:
		return nil, fmt.Errorf("database is required")
	case cfg.Submissions == nil, cfg.Files == nil, cfg.Results == nil, cfg.Assignments == nil:
		return nil, fmt.Errorf("repositories are required")
	case cfg.Storage == nil:
		return nil, fmt.Errorf("storage is required")
	case cfg.Locker == nil:
		return nil, fmt.Errorf("locker is required")
	}
	if cfg.Events == nil {
		cfg.Events = noopPublisher{}
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SubmissionService{
		db:           cfg.DB,
		submissions:  cfg.Submissions,
		files:        cfg.Files,
		results:      cfg.Results,
		assignments:  cfg.Assignments,
		storage:      cfg.Storage,
		locker:       cfg.Locker,
		events:       cfg.Events,
		keyPrefix:    strings.Trim(cfg.KeyPrefix, "/"),
		maxFileBytes: cfg.MaxFileBytes,
		lockTTL:      cfg.LockTTL,
		lockWait:     cfg.LockWait,
		now:          cfg.Now,
	}, nil
}

// Upload is a file handed in by an author.
type Upload struct {
	Name    string
	Size    int64
	Content io.Reader
}

// CreateInput describes a new submission.
type CreateInput struct {
	AssignmentID string
	CoAuthors    []model.Author
	Notes        string
	File         *Upload
}

// Create stores a new submission in the initial state of the assignment pipeline.
func (s *SubmissionService) Create(ctx context.Context, actor model.Actor, in CreateInput) (*model.Submission, error) {
	if actor.UserID == "" {
		return nil, appErr.New(appErr.Unauthorized)
	}
	a, err := s.getAssignment(ctx, in.AssignmentID)
	if err != nil {
		return nil, err
	}
	active, err := s.submissions.HasActive(ctx, nil, a.ID, actor.UserID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "check existing submission failed")
	}
	now := s.now()
	if err := model.CanCreateSubmission(actor, a, active, now); err != nil {
		return nil, err
	}

	pipeline := a.Pipeline()
	if in.File == nil && pipeline.HasTests() {
		return nil, appErr.New(appErr.FileRequired)
	}

	sub := &model.Submission{
		ID:           uuid.NewString(),
		AssignmentID: a.ID,
		SubmitterID:  actor.UserID,
		Authors:      mergeAuthors(model.Author{UserID: actor.UserID, Email: actor.Email}, in.CoAuthors),
		State:        model.StateReceived,
		Notes:        in.Notes,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	var file *model.File
	if in.File != nil {
		if file, err = s.storeUpload(ctx, sub, in.File, now); err != nil {
			return nil, err
		}
		sub.FileID = file.ID
	}
	sub.State = pipeline.InitialState()

	privileged := actor.Privileged(a)
	err = s.db.Transaction(ctx, func(tx db.Transaction) error {
		for _, author := range sub.Authors {
			if privileged && author.UserID == actor.UserID {
				continue
			}
			taken, err := s.submissions.HasActive(ctx, tx, a.ID, author.UserID)
			if err != nil {
				return err
			}
			if taken {
				return appErr.New(appErr.SubmissionExists).
					WithMessagef("%s already has a valid submission for this assignment", authorName(author))
			}
		}
		if file != nil {
			if err := s.files.Create(ctx, tx, file); err != nil {
				return err
			}
		}
		return s.submissions.Create(ctx, tx, sub)
	})
	if err != nil {
		if appErr.Is(err, appErr.SubmissionExists) {
			return nil, err
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "create submission failed")
	}

	logger.Info(ctx, "submission created",
		zap.String("submission_id", sub.ID),
		zap.String("assignment_id", a.ID),
		zap.String("state", string(sub.State)),
	)
	s.publish(ctx, a, sub, model.StateReceived, actor.UserID, now)
	return sub, nil
}

// Reupload replaces the file of a failed submission and restarts its pipeline.
func (s *SubmissionService) Reupload(ctx context.Context, actor model.Actor, id string, upload *Upload) (*model.Submission, error) {
	if upload == nil {
		return nil, appErr.New(appErr.FileRequired)
	}
	var out *model.Submission
	err := s.withSubmissionLock(ctx, id, func() error {
		sub, a, cur, err := s.loadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := model.CanReupload(actor, sub, cur, a, now); err != nil {
			return err
		}
		next, err := model.Next(sub.State, model.ActionReupload, a.Pipeline())
		if err != nil {
			return err
		}
		file, err := s.storeUpload(ctx, sub, upload, now)
		if err != nil {
			return err
		}

		from := sub.State
		err = s.db.Transaction(ctx, func(tx db.Transaction) error {
			if err := s.files.Create(ctx, tx, file); err != nil {
				return err
			}
			if sub.FileID != "" {
				if err := s.files.MarkReplaced(ctx, tx, sub.FileID, file.ID); err != nil {
					return err
				}
			}
			return s.submissions.Transition(ctx, tx, repository.StateChange{
				SubmissionID:     sub.ID,
				From:             from,
				To:               next,
				ExpectFileID:     sub.FileID,
				NewFileID:        file.ID,
				RequireUnclaimed: true,
				Now:              now,
			})
		})
		if err != nil {
			return s.transitionError(err, sub.ID)
		}
		s.submissions.Evict(ctx, sub.ID)

		sub.State, sub.FileID, sub.ModifiedAt = next, file.ID, now
		logger.Info(ctx, "submission re-uploaded",
			zap.String("submission_id", sub.ID),
			zap.String("file_id", file.ID),
			zap.String("from", string(from)),
			zap.String("to", string(next)),
		)
		s.publish(ctx, a, sub, from, actor.UserID, now)
		out = sub
		return nil
	})
	return out, err
}

// Withdraw moves a submission to the terminal WITHDRAWN state.
func (s *SubmissionService) Withdraw(ctx context.Context, actor model.Actor, id string) (*model.Submission, error) {
	return s.apply(ctx, actor, id, model.ActionWithdraw, nil)
}

// StartGrading marks a gradable submission as being graded.
func (s *SubmissionService) StartGrading(ctx context.Context, actor model.Actor, id string) (*model.Submission, error) {
	return s.apply(ctx, actor, id, model.ActionStartGrading, nil)
}

// GradeInput is a tutor's grading decision.
type GradeInput struct {
	Title  string
	Passed bool
	Notes  *string
}

// Grade records a grade, from GRADING_IN_PROGRESS or straight from a gradable state.
func (s *SubmissionService) Grade(ctx context.Context, actor model.Actor, id string, in GradeInput) (*model.Submission, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, appErr.ValidationError("title", "required")
	}
	return s.apply(ctx, actor, id, model.ActionGrade, func(c *repository.StateChange) {
		c.Grade = &model.Grade{Title: title, Passed: in.Passed}
		c.GradingNotes = in.Notes
	})
}

// ReopenGrading returns a graded submission to GRADING_IN_PROGRESS.
func (s *SubmissionService) ReopenGrading(ctx context.Context, actor model.Actor, id string) (*model.Submission, error) {
	return s.apply(ctx, actor, id, model.ActionReopenGrading, nil)
}

// Close publishes the grade to the authors.
func (s *SubmissionService) Close(ctx context.Context, actor model.Actor, id string) (*model.Submission, error) {
	return s.apply(ctx, actor, id, model.ActionClose, nil)
}

// RequestFullRetest queues the current file for another full test run.
func (s *SubmissionService) RequestFullRetest(ctx context.Context, actor model.Actor, id string) (*model.Submission, error) {
	return s.apply(ctx, actor, id, model.ActionFullRetest, nil)
}

// apply runs a manual action under the submission lock.
func (s *SubmissionService) apply(ctx context.Context, actor model.Actor, id string, action model.Action, extra func(*repository.StateChange)) (*model.Submission, error) {
	var out *model.Submission
	err := s.withSubmissionLock(ctx, id, func() error {
		sub, a, cur, err := s.loadForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.authorize(actor, action, sub, cur, a, now); err != nil {
			return err
		}
		next, err := model.Next(sub.State, action, a.Pipeline())
		if err != nil {
			return err
		}
		if next.IsTestPending() && cur == nil {
			return appErr.New(appErr.FileRequired)
		}

		change := repository.StateChange{
			SubmissionID: sub.ID,
			From:         sub.State,
			To:           next,
			ExpectFileID: sub.FileID,
			Now:          now,
		}
		if action == model.ActionWithdraw {
			change.RequireUnclaimed = true
		}
		if extra != nil {
			extra(&change)
		}
		if err := s.submissions.Transition(ctx, nil, change); err != nil {
			return s.transitionError(err, sub.ID)
		}

		from := sub.State
		sub.State, sub.ModifiedAt = next, now
		if change.Grade != nil {
			sub.Grade = change.Grade
		}
		if change.GradingNotes != nil {
			sub.GradingNotes = *change.GradingNotes
		}
		logger.Info(ctx, "submission transition",
			zap.String("submission_id", sub.ID),
			zap.String("action", string(action)),
			zap.String("from", string(from)),
			zap.String("to", string(next)),
		)
		s.publish(ctx, a, sub, from, actor.UserID, now)
		out = sub
		return nil
	})
	return out, err
}

func (s *SubmissionService) authorize(actor model.Actor, action model.Action, sub *model.Submission, cur *model.File, a *model.Assignment, now time.Time) error {
	switch action {
	case model.ActionWithdraw:
		return model.CanWithdraw(actor, sub, cur, a, now)
	case model.ActionReupload:
		return model.CanReupload(actor, sub, cur, a, now)
	default:
		return model.CanGrade(actor, a)
	}
}

// View is a submission as presented to one actor.
type View struct {
	Submission    *model.Submission                    `json:"submission"`
	StateLabel    string                               `json:"state_label"`
	File          *model.File                          `json:"file,omitempty"`
	LatestResults map[model.TestKind]*model.TestResult `json:"latest_results"`
	CanModify     bool                                 `json:"can_modify"`
	CanReupload   bool                                 `json:"can_reupload"`
}

// Get returns the actor's view of a submission. Authors do not see full test results.
func (s *SubmissionService) Get(ctx context.Context, actor model.Actor, id string) (*View, error) {
	sub, err := s.getSubmission(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	a, err := s.getAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return nil, err
	}
	if err := model.CanView(actor, sub, a); err != nil {
		return nil, err
	}
	staff := actor.Privileged(a)
	view := &View{
		Submission:    sub,
		StateLabel:    sub.State.Label(staff),
		LatestResults: map[model.TestKind]*model.TestResult{},
	}
	if sub.FileID != "" {
		file, err := s.files.GetByID(ctx, nil, sub.FileID)
		if err != nil {
			return nil, s.fileError(err, sub)
		}
		view.File = file
		latest, err := s.results.LatestByKind(ctx, file.ID)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "load results failed")
		}
		if !staff {
			delete(latest, model.KindFull)
		}
		view.LatestResults = latest
	}
	now := s.now()
	view.CanModify = model.CanModify(actor, sub, view.File, a, now) == nil
	view.CanReupload = model.CanReupload(actor, sub, view.File, a, now) == nil
	return view, nil
}

// OpenFile streams the current file of a submission.
func (s *SubmissionService) OpenFile(ctx context.Context, actor model.Actor, id string) (io.ReadCloser, *model.File, error) {
	sub, err := s.getSubmission(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.getAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return nil, nil, err
	}
	if err := model.CanView(actor, sub, a); err != nil {
		return nil, nil, err
	}
	if sub.FileID == "" {
		return nil, nil, appErr.New(appErr.FileNotFound)
	}
	file, err := s.files.GetByID(ctx, nil, sub.FileID)
	if err != nil {
		return nil, nil, s.fileError(err, sub)
	}
	reader, err := s.storage.GetObject(ctx, file.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErr.Invariant("object %s of file %s is missing", file.ObjectKey, file.ID)
		}
		return nil, nil, appErr.Wrapf(err, appErr.StorageError, "open submission file failed")
	}
	return reader, file, nil
}

// ResultInput is a test outcome posted by an executor.
type ResultInput struct {
	FileID    string
	MachineID string
	Kind      model.TestKind
	Result    string
	ExitCode  int
	PerfData  string
}

// ResultOutcome reports what a recorded result did.
type ResultOutcome struct {
	ResultID     string      `json:"result_id"`
	SubmissionID string      `json:"submission_id"`
	Transitioned bool        `json:"transitioned"`
	From         model.State `json:"from"`
	To           model.State `json:"to"`
}

// RecordTestResult stores a result and advances the submission when the result
// belongs to its current file and to the phase it is waiting for.
func (s *SubmissionService) RecordTestResult(ctx context.Context, in ResultInput) (*ResultOutcome, error) {
	if in.FileID == "" || in.MachineID == "" {
		return nil, appErr.New(appErr.MalformedResult).WithMessage("file and machine are required")
	}
	if _, err := model.ParseTestKind(string(in.Kind)); err != nil {
		return nil, appErr.Wrap(err, appErr.UnknownTestKind)
	}
	file, err := s.files.GetByID(ctx, nil, in.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrFileNotFound) {
			return nil, appErr.Newf(appErr.FileNotFound, "file %s not found", in.FileID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load file failed")
	}

	var out *ResultOutcome
	err = s.withSubmissionLock(ctx, file.SubmissionID, func() error {
		sub, err := s.getSubmission(ctx, nil, file.SubmissionID)
		if err != nil {
			return err
		}
		a, err := s.getAssignment(ctx, sub.AssignmentID)
		if err != nil {
			return err
		}
		now := s.now()
		res := &model.TestResult{
			ID:        uuid.NewString(),
			FileID:    file.ID,
			MachineID: in.MachineID,
			Kind:      in.Kind,
			Result:    in.Result,
			ExitCode:  in.ExitCode,
			PerfData:  in.PerfData,
			CreatedAt: now,
		}
		out = &ResultOutcome{ResultID: res.ID, SubmissionID: sub.ID}

		err = s.db.Transaction(ctx, func(tx db.Transaction) error {
			current, err := s.submissions.GetByID(ctx, tx, sub.ID)
			if err != nil {
				return err
			}
			if err := s.results.Create(ctx, tx, res); err != nil {
				return err
			}
			released, err := s.files.ReleaseClaim(ctx, tx, file.ID)
			if err != nil {
				return err
			}
			if !released {
				logger.Warn(ctx, "result for unclaimed file",
					zap.String("file_id", file.ID),
					zap.String("machine_id", in.MachineID),
				)
			}

			out.From, out.To = current.State, current.State
			if current.FileID != file.ID {
				return nil
			}
			next, ok := model.OnResult(current.State, in.Kind, res.Passed(), a.Pipeline())
			if !ok {
				return nil
			}
			if err := s.submissions.Transition(ctx, tx, repository.StateChange{
				SubmissionID: current.ID,
				From:         current.State,
				To:           next,
				ExpectFileID: file.ID,
				Now:          now,
			}); err != nil {
				if errors.Is(err, repository.ErrStateConflict) {
					return appErr.Invariant("submission %s changed under its lock", current.ID)
				}
				return err
			}
			sub = current
			out.To, out.Transitioned = next, true
			return nil
		})
		if err != nil {
			if appErr.Is(err, appErr.InvariantViolation) {
				logger.Error(ctx, "result ingestion invariant violated",
					zap.String("submission_id", sub.ID),
					zap.String("file_id", file.ID),
					zap.Error(err),
				)
				return err
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "record test result failed")
		}
		s.submissions.Evict(ctx, sub.ID)

		logger.Info(ctx, "test result recorded",
			zap.String("result_id", res.ID),
			zap.String("submission_id", sub.ID),
			zap.String("file_id", file.ID),
			zap.String("kind", string(in.Kind)),
			zap.Int("exit_code", in.ExitCode),
			zap.Bool("transitioned", out.Transitioned),
		)
		if out.Transitioned {
			sub.State, sub.ModifiedAt = out.To, now
			s.publish(ctx, a, sub, out.From, "", now)
		}
		return nil
	})
	return out, err
}

func (s *SubmissionService) withSubmissionLock(ctx context.Context, id string, fn func() error) error {
	if id == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	release, err := s.locker.Obtain(ctx, lockKeyPrefix+id, s.lockTTL, s.lockWait)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotObtained) {
			return appErr.Newf(appErr.LockFailed, "submission %s is busy", id)
		}
		return appErr.Wrapf(err, appErr.CacheError, "obtain submission lock failed")
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "release submission lock failed", zap.String("submission_id", id), zap.Error(err))
		}
	}()
	return fn()
}

// loadForUpdate reads a submission with its assignment and current file, bypassing caches.
func (s *SubmissionService) loadForUpdate(ctx context.Context, id string) (*model.Submission, *model.Assignment, *model.File, error) {
	s.submissions.Evict(ctx, id)
	sub, err := s.getSubmission(ctx, nil, id)
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := s.getAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	if sub.FileID == "" {
		return sub, a, nil, nil
	}
	file, err := s.files.GetByID(ctx, nil, sub.FileID)
	if err != nil {
		return nil, nil, nil, s.fileError(err, sub)
	}
	return sub, a, file, nil
}

func (s *SubmissionService) getSubmission(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error) {
	sub, err := s.submissions.GetByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return sub, nil
}

func (s *SubmissionService) getAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	if id == "" {
		return nil, appErr.ValidationError("assignment_id", "required")
	}
	a, err := s.assignments.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrAssignmentNotFound) {
			return nil, appErr.Newf(appErr.AssignmentNotFound, "assignment %s not found", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load assignment failed")
	}
	return a, nil
}

// fileError maps a failed lookup of a submission's own current file.
func (s *SubmissionService) fileError(err error, sub *model.Submission) error {
	if errors.Is(err, repository.ErrFileNotFound) {
		return appErr.Invariant("submission %s references missing file %s", sub.ID, sub.FileID)
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "load file failed")
}

func (s *SubmissionService) transitionError(err error, id string) error {
	if errors.Is(err, repository.ErrStateConflict) {
		return appErr.Newf(appErr.SubmissionLocked, "submission %s changed concurrently", id)
	}
	if _, ok := err.(*appErr.Error); ok {
		return err
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
}

func (s *SubmissionService) storeUpload(ctx context.Context, sub *model.Submission, upload *Upload, now time.Time) (*model.File, error) {
	name := sanitizeFileName(upload.Name)
	if name == "" {
		return nil, appErr.ValidationError("file", "name is required")
	}
	if upload.Size <= 0 {
		return nil, appErr.ValidationError("file", "empty upload")
	}
	if upload.Size > s.maxFileBytes {
		return nil, appErr.ValidationError("file", fmt.Sprintf("larger than %d bytes", s.maxFileBytes))
	}

	file := &model.File{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		Name:         name,
		Size:         upload.Size,
		CreatedAt:    now,
	}
	file.ObjectKey = path.Join(s.keyPrefix, sub.AssignmentID, sub.ID, file.ID, name)

	hasher := sha256.New()
	reader := io.TeeReader(io.LimitReader(upload.Content, upload.Size), hasher)
	if err := s.storage.PutObject(ctx, file.ObjectKey, reader, upload.Size, "application/octet-stream"); err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "store submission file failed")
	}
	file.SHA256 = hex.EncodeToString(hasher.Sum(nil))
	return file, nil
}

func (s *SubmissionService) publish(ctx context.Context, a *model.Assignment, sub *model.Submission, from model.State, actorID string, now time.Time) {
	event := model.TransitionEvent{
		EventID:         uuid.NewString(),
		SubmissionID:    sub.ID,
		AssignmentID:    a.ID,
		AssignmentTitle: a.Title,
		From:            from,
		To:              sub.State,
		Authors:         sub.Authors,
		Owner:           a.Owner,
		ActorID:         actorID,
		OccurredAt:      now,
	}
	if err := s.events.PublishTransition(ctx, event); err != nil {
		logger.Error(ctx, "publish transition event failed",
			zap.String("submission_id", sub.ID),
			zap.String("to", string(sub.State)),
			zap.Error(err),
		)
	}
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// mergeAuthors puts the submitter first and drops duplicate or empty co-authors.
func authorName(a model.Author) string {
	if a.Email != "" {
		return a.Email
	}
	return a.UserID
}

func mergeAuthors(submitter model.Author, coAuthors []model.Author) []model.Author {
	out := []model.Author{submitter}
	seen := map[string]bool{submitter.UserID: true}
	for _, a := range coAuthors {
		a.UserID = strings.TrimSpace(a.UserID)
		if a.UserID == "" || seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		out = append(out, a)
	}
	return out
}
