package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gradeline/internal/common/storage"
	"gradeline/internal/submission/model"
	"gradeline/internal/submission/repository"
	appErr "gradeline/pkg/errors"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultScriptPrefix   = "scripts"
	defaultMaxScriptBytes = 1 << 20
)

// Filter selects a slice of an assignment's submissions.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterValid      Filter = "valid"
	FilterGradable   Filter = "gradable"
	FilterUnfinished Filter = "unfinished"
	FilterGraded     Filter = "graded"
)

// States returns the states a filter selects; nil means every state.
func (f Filter) States() ([]model.State, error) {
	switch f {
	case "", FilterAll:
		return nil, nil
	case FilterValid:
		var out []model.State
		for _, s := range model.States() {
			if s != model.StateWithdrawn && s != model.StateReceived {
				out = append(out, s)
			}
		}
		return out, nil
	case FilterGradable:
		return model.GradableStates, nil
	case FilterUnfinished:
		return []model.State{model.StateGradingInProgress}, nil
	case FilterGraded:
		return []model.State{model.StateGraded}, nil
	}
	return nil, fmt.Errorf("unknown filter %q", f)
}

// AssignmentService manages assignment pipeline configuration and staff listings.
type AssignmentService struct {
	assignments    repository.AssignmentRepository
	submissions    repository.SubmissionRepository
	results        repository.ResultRepository
	storage        storage.ObjectStorage
	scriptPrefix   string
	maxScriptBytes int64
}

// NewAssignmentService creates an assignment service.
func NewAssignmentService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository,
	results repository.ResultRepository, objects storage.ObjectStorage) *AssignmentService {
	return &AssignmentService{
		assignments:    assignments,
		submissions:    submissions,
		results:        results,
		storage:        objects,
		scriptPrefix:   defaultScriptPrefix,
		maxScriptBytes: defaultMaxScriptBytes,
	}
}

// SubmissionList is the staff listing of an assignment.
type SubmissionList struct {
	AssignmentID   string              `json:"assignment_id"`
	Filter         Filter              `json:"filter"`
	HasPerfResults bool                `json:"has_perf_results"`
	Submissions    []*model.Submission `json:"submissions"`
}

// ListSubmissions lists submissions of an assignment for course staff.
func (s *AssignmentService) ListSubmissions(ctx context.Context, actor model.Actor, assignmentID string, filter Filter) (*SubmissionList, error) {
	a, err := s.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := model.CanGrade(actor, a); err != nil {
		return nil, err
	}
	states, err := filter.States()
	if err != nil {
		return nil, appErr.ValidationError("filter", err.Error())
	}
	subs, err := s.submissions.ListByAssignment(ctx, a.ID, states)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	perf, err := s.results.AssignmentHasPerfData(ctx, a.ID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "check performance data failed")
	}
	if filter == "" {
		filter = FilterAll
	}
	return &SubmissionList{AssignmentID: a.ID, Filter: filter, HasPerfResults: perf, Submissions: subs}, nil
}

// Get loads an assignment.
func (s *AssignmentService) Get(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := s.assignments.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrAssignmentNotFound) {
			return nil, appErr.Newf(appErr.AssignmentNotFound, "assignment %s not found", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load assignment failed")
	}
	return a, nil
}

func (s *AssignmentService) List(ctx context.Context) ([]*model.Assignment, error) {
	list, err := s.assignments.List(ctx)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list assignments failed")
	}
	return list, nil
}

// Save stores an assignment configuration. Referenced scripts must already exist.
func (s *AssignmentService) Save(ctx context.Context, a *model.Assignment) error {
	if a == nil || strings.TrimSpace(a.ID) == "" {
		return appErr.ValidationError("id", "required")
	}
	if strings.TrimSpace(a.Title) == "" {
		return appErr.ValidationError("title", "required")
	}
	if a.TimeoutSeconds < 0 {
		return appErr.ValidationError("timeout_seconds", "must not be negative")
	}
	if a.TimeoutSeconds == 0 {
		a.TimeoutSeconds = model.DefaultTimeoutSeconds
	}
	for field, key := range map[string]string{"validity_script_key": a.ValidityScriptKey, "full_script_key": a.FullScriptKey} {
		if key == "" {
			continue
		}
		if _, err := s.storage.StatObject(ctx, key); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return appErr.ValidationError(field, "script object does not exist")
			}
			return appErr.Wrapf(err, appErr.StorageError, "check script failed")
		}
	}
	if err := s.assignments.Save(ctx, a); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save assignment failed")
	}
	logger.Info(ctx, "assignment saved", zap.String("assignment_id", a.ID), zap.String("title", a.Title))
	return nil
}

// UploadScript stores a validity or full test script and returns its object key.
func (s *AssignmentService) UploadScript(ctx context.Context, assignmentID string, kind model.TestKind, name string, content io.Reader, size int64) (string, error) {
	if kind != model.KindValidate && kind != model.KindFull {
		return "", appErr.Newf(appErr.UnknownTestKind, "scripts exist for validate and full tests only")
	}
	name = sanitizeFileName(name)
	if name == "" {
		return "", appErr.ValidationError("name", "required")
	}
	if size <= 0 || size > s.maxScriptBytes {
		return "", appErr.ValidationError("content", fmt.Sprintf("size must be between 1 and %d bytes", s.maxScriptBytes))
	}
	key := path.Join(s.scriptPrefix, assignmentID, string(kind), name)
	if err := s.storage.PutObject(ctx, key, content, size, "application/octet-stream"); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "store script failed")
	}
	return key, nil
}
