package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"
	"gradeline/internal/submission/model"
)

const (
	defaultSubmissionCacheTTL      = 10 * time.Minute
	defaultSubmissionCacheEmptyTTL = time.Minute
	submissionCacheKeyPrefix       = "gradeline:submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrStateConflict means a conditional update lost against a concurrent writer.
	ErrStateConflict = errors.New("submission changed concurrently")
)

// StateChange is a compare-and-set on a submission row.
type StateChange struct {
	SubmissionID string
	From         model.State
	To           model.State
	// ExpectFileID guards that the current file did not change; empty skips the guard.
	ExpectFileID string
	// NewFileID replaces the current file when set.
	NewFileID string
	// RequireUnclaimed fails the change while an executor holds the current file.
	RequireUnclaimed bool
	// Grade, when set, records the grading outcome.
	Grade        *model.Grade
	GradingNotes *string
	Now          time.Time
}

// SubmissionRepository defines submission persistence.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error)
	// Transition applies change and returns ErrStateConflict when the row no longer matches.
	Transition(ctx context.Context, tx db.Transaction, change StateChange) error
	ListByAssignment(ctx context.Context, assignmentID string, states []model.State) ([]*model.Submission, error)
	// HasActive reports a non-withdrawn submission of assignmentID authored by userID.
	HasActive(ctx context.Context, tx db.Transaction, assignmentID, userID string) (bool, error)
	// Evict drops the cached copy after a committed write.
	Evict(ctx context.Context, id string)
}

// SQLSubmissionRepository implements SubmissionRepository.
type SQLSubmissionRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository. cacheClient may be nil.
func NewSubmissionRepository(database db.Database, cacheClient cache.BasicOps) *SQLSubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) *SQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &SQLSubmissionRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

const submissionColumns = "id, assignment_id, submitter_id, file_id, state, graded, grade_title, grade_passed, grading_notes, notes, created_at, modified_at"

// Create inserts a submission with its authors.
func (r *SQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, s *model.Submission) error {
	if s == nil {
		return errors.New("submission is nil")
	}
	if s.ID == "" || s.AssignmentID == "" || s.SubmitterID == "" {
		return errors.New("submission id, assignment and submitter are required")
	}
	if !s.State.Valid() || s.State == model.StateReceived {
		return fmt.Errorf("cannot persist submission in state %q", s.State)
	}
	if len(s.Authors) == 0 {
		return errors.New("submission needs at least one author")
	}

	q := db.GetQuerier(r.db, tx)
	graded, title, passed := gradeColumns(s.Grade)
	_, err := q.Exec(ctx, `
		INSERT INTO submissions
		(`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AssignmentID, s.SubmitterID, db.NullString(s.FileID), string(s.State),
		graded, title, passed, s.GradingNotes, s.Notes,
		db.Millis(s.CreatedAt), db.Millis(s.ModifiedAt),
	)
	if err != nil {
		return err
	}
	for _, a := range s.Authors {
		if _, err := q.Exec(ctx,
			"INSERT INTO submission_authors (submission_id, user_id, email) VALUES (?, ?, ?)",
			s.ID, a.UserID, a.Email,
		); err != nil {
			return fmt.Errorf("insert author %s: %w", a.UserID, err)
		}
	}
	return nil
}

// GetByID loads a submission. Reads outside a transaction go through the cache.
func (r *SQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error) {
	if id == "" {
		return nil, errors.New("submission id is required")
	}
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, id)
	}
	s, found, err := cache.GetWithCached(ctx, r.cache, submissionCacheKey(id), r.ttl, r.emptyTTL,
		func(ctx context.Context) (*model.Submission, bool, error) {
			s, err := r.getFromDB(ctx, nil, id)
			if errors.Is(err, ErrSubmissionNotFound) {
				return nil, false, nil
			}
			return s, err == nil, err
		})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSubmissionNotFound
	}
	return s, nil
}

func (r *SQLSubmissionRepository) getFromDB(ctx context.Context, tx db.Transaction, id string) (*model.Submission, error) {
	q := db.GetQuerier(r.db, tx)
	row := q.QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	s, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if err := loadAuthors(ctx, q, []*model.Submission{s}); err != nil {
		return nil, err
	}
	return s, nil
}

// Transition performs the compare-and-set described by change.
func (r *SQLSubmissionRepository) Transition(ctx context.Context, tx db.Transaction, change StateChange) error {
	if !change.To.Valid() || change.To == model.StateReceived {
		return fmt.Errorf("invalid target state %q", change.To)
	}

	sets := []string{"state = ?", "modified_at = ?"}
	args := []interface{}{string(change.To), db.Millis(change.Now)}
	if change.NewFileID != "" {
		sets = append(sets, "file_id = ?")
		args = append(args, change.NewFileID)
	}
	if change.Grade != nil {
		graded, title, passed := gradeColumns(change.Grade)
		sets = append(sets, "graded = ?", "grade_title = ?", "grade_passed = ?")
		args = append(args, graded, title, passed)
	}
	if change.GradingNotes != nil {
		sets = append(sets, "grading_notes = ?")
		args = append(args, *change.GradingNotes)
	}

	where := []string{"id = ?", "state = ?"}
	args = append(args, change.SubmissionID, string(change.From))
	if change.ExpectFileID != "" {
		where = append(where, "file_id = ?")
		args = append(args, change.ExpectFileID)
	}
	if change.RequireUnclaimed {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM submission_files f
			WHERE f.id = submissions.file_id AND f.fetched_at IS NOT NULL)`)
	}

	query := "UPDATE submissions SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	affected, err := db.RowsAffected(db.GetQuerier(r.db, tx).Exec(ctx, query, args...))
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrStateConflict
	}
	if tx == nil {
		r.Evict(ctx, change.SubmissionID)
	}
	return nil
}

// ListByAssignment returns submissions of an assignment in any of states, newest first.
// An empty states slice lists every state.
func (r *SQLSubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string, states []model.State) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE assignment_id = ?"
	args := []interface{}{assignmentID}
	if len(states) > 0 {
		query += " AND state IN (" + db.Placeholders(len(states)) + ")"
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += " ORDER BY modified_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := loadAuthors(ctx, r.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLSubmissionRepository) HasActive(ctx context.Context, tx db.Transaction, assignmentID, userID string) (bool, error) {
	var one int
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, `
		SELECT 1 FROM submissions s
		JOIN submission_authors a ON a.submission_id = s.id
		WHERE s.assignment_id = ? AND a.user_id = ? AND s.state <> ?
		LIMIT 1`,
		assignmentID, userID, string(model.StateWithdrawn),
	).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *SQLSubmissionRepository) Evict(ctx context.Context, id string) {
	cache.Invalidate(ctx, r.cache, submissionCacheKey(id))
}

func submissionCacheKey(id string) string {
	return submissionCacheKeyPrefix + id
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var (
		s                     model.Submission
		fileID                *string
		state                 string
		graded, passed        int
		title                 string
		createdAt, modifiedAt int64
	)
	if err := row.Scan(&s.ID, &s.AssignmentID, &s.SubmitterID, &fileID, &state,
		&graded, &title, &passed, &s.GradingNotes, &s.Notes, &createdAt, &modifiedAt); err != nil {
		return nil, err
	}
	st, err := model.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", s.ID, err)
	}
	s.State = st
	if fileID != nil {
		s.FileID = *fileID
	}
	if graded != 0 {
		s.Grade = &model.Grade{Title: title, Passed: passed != 0}
	}
	s.CreatedAt = db.FromMillis(createdAt)
	s.ModifiedAt = db.FromMillis(modifiedAt)
	return &s, nil
}

func gradeColumns(g *model.Grade) (graded int, title string, passed int) {
	if g == nil {
		return 0, "", 0
	}
	return 1, g.Title, db.BoolInt(g.Passed)
}

// loadAuthors fills Authors for subs with one query.
func loadAuthors(ctx context.Context, q db.Querier, subs []*model.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	byID := make(map[string]*model.Submission, len(subs))
	args := make([]interface{}, 0, len(subs))
	for _, s := range subs {
		byID[s.ID] = s
		args = append(args, s.ID)
	}
	rows, err := q.Query(ctx,
		"SELECT submission_id, user_id, email FROM submission_authors WHERE submission_id IN ("+
			db.Placeholders(len(args))+") ORDER BY user_id", args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var subID string
		var a model.Author
		if err := rows.Scan(&subID, &a.UserID, &a.Email); err != nil {
			return err
		}
		if s := byID[subID]; s != nil {
			s.Authors = append(s.Authors, a)
		}
	}
	return rows.Err()
}

var _ SubmissionRepository = (*SQLSubmissionRepository)(nil)
