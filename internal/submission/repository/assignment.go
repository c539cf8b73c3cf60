package repository

import (
	"context"
	"errors"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"
	"gradeline/internal/submission/model"
)

const (
	defaultAssignmentCacheTTL      = 30 * time.Minute
	defaultAssignmentCacheEmptyTTL = time.Minute
	assignmentCacheKeyPrefix       = "gradeline:assignment:"

	roleOwner = "owner"
	roleTutor = "tutor"
)

var ErrAssignmentNotFound = errors.New("assignment not found")

// AssignmentRepository reads and writes assignment pipeline configuration.
type AssignmentRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Assignment, error)
	List(ctx context.Context) ([]*model.Assignment, error)
	// Save inserts or replaces an assignment together with its staff.
	Save(ctx context.Context, a *model.Assignment) error
}

// SQLAssignmentRepository implements AssignmentRepository.
type SQLAssignmentRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewAssignmentRepository creates an assignment repository. cacheClient may be nil.
func NewAssignmentRepository(database db.Database, cacheClient cache.BasicOps) *SQLAssignmentRepository {
	return &SQLAssignmentRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultAssignmentCacheTTL,
		emptyTTL: defaultAssignmentCacheEmptyTTL,
	}
}

const assignmentColumns = "id, course_id, title, publish_at, hard_deadline, compile_test, validity_script_key, full_script_key, timeout_seconds, compile_command, created_at"

func (r *SQLAssignmentRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Assignment, error) {
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, id)
	}
	a, found, err := cache.GetWithCached(ctx, r.cache, assignmentCacheKeyPrefix+id, r.ttl, r.emptyTTL,
		func(ctx context.Context) (*model.Assignment, bool, error) {
			a, err := r.getFromDB(ctx, nil, id)
			if errors.Is(err, ErrAssignmentNotFound) {
				return nil, false, nil
			}
			return a, err == nil, err
		})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAssignmentNotFound
	}
	return a, nil
}

func (r *SQLAssignmentRepository) getFromDB(ctx context.Context, tx db.Transaction, id string) (*model.Assignment, error) {
	q := db.GetQuerier(r.db, tx)
	a, err := scanAssignment(q.QueryRow(ctx, "SELECT "+assignmentColumns+" FROM assignments WHERE id = ?", id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}
	if err := r.loadStaff(ctx, q, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns all assignments ordered by creation, without staff.
func (r *SQLAssignmentRepository) List(ctx context.Context) ([]*model.Assignment, error) {
	rows, err := r.db.Query(ctx, "SELECT "+assignmentColumns+" FROM assignments ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLAssignmentRepository) Save(ctx context.Context, a *model.Assignment) error {
	if a == nil || a.ID == "" || a.Title == "" {
		return errors.New("assignment id and title are required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		var exists int
		err := tx.QueryRow(ctx, "SELECT 1 FROM assignments WHERE id = ?", a.ID).Scan(&exists)
		switch {
		case db.IsNoRows(err):
			_, err = tx.Exec(ctx, `
				INSERT INTO assignments (`+assignmentColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, a.CourseID, a.Title, db.Millis(a.PublishAt), db.Millis(a.HardDeadline),
				db.BoolInt(a.CompileTest), a.ValidityScriptKey, a.FullScriptKey,
				a.TimeoutSeconds, a.Command(), db.Millis(a.CreatedAt))
		case err == nil:
			_, err = tx.Exec(ctx, `
				UPDATE assignments SET course_id = ?, title = ?, publish_at = ?, hard_deadline = ?,
				compile_test = ?, validity_script_key = ?, full_script_key = ?, timeout_seconds = ?,
				compile_command = ?
				WHERE id = ?`,
				a.CourseID, a.Title, db.Millis(a.PublishAt), db.Millis(a.HardDeadline),
				db.BoolInt(a.CompileTest), a.ValidityScriptKey, a.FullScriptKey,
				a.TimeoutSeconds, a.Command(), a.ID)
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "DELETE FROM assignment_staff WHERE assignment_id = ?", a.ID); err != nil {
			return err
		}
		staff := map[string]bool{}
		insert := func(who model.Author, role string) error {
			if who.UserID == "" || staff[who.UserID] {
				return nil
			}
			staff[who.UserID] = true
			_, err := tx.Exec(ctx,
				"INSERT INTO assignment_staff (assignment_id, user_id, email, role) VALUES (?, ?, ?, ?)",
				a.ID, who.UserID, who.Email, role)
			return err
		}
		if err := insert(a.Owner, roleOwner); err != nil {
			return err
		}
		for _, t := range a.Tutors {
			if err := insert(t, roleTutor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cache.Invalidate(ctx, r.cache, assignmentCacheKeyPrefix+a.ID)
	return nil
}

func (r *SQLAssignmentRepository) loadStaff(ctx context.Context, q db.Querier, a *model.Assignment) error {
	rows, err := q.Query(ctx,
		"SELECT user_id, email, role FROM assignment_staff WHERE assignment_id = ? ORDER BY user_id", a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var who model.Author
		var role string
		if err := rows.Scan(&who.UserID, &who.Email, &role); err != nil {
			return err
		}
		if role == roleOwner {
			a.Owner = who
		} else {
			a.Tutors = append(a.Tutors, who)
		}
	}
	return rows.Err()
}

func scanAssignment(row scanner) (*model.Assignment, error) {
	var (
		a                              model.Assignment
		publishAt, deadline, createdAt int64
		compile                        int
	)
	if err := row.Scan(&a.ID, &a.CourseID, &a.Title, &publishAt, &deadline, &compile,
		&a.ValidityScriptKey, &a.FullScriptKey, &a.TimeoutSeconds, &a.CompileCommand, &createdAt); err != nil {
		return nil, err
	}
	a.PublishAt = db.FromMillis(publishAt)
	a.HardDeadline = db.FromMillis(deadline)
	a.CompileTest = compile != 0
	a.CreatedAt = db.FromMillis(createdAt)
	return &a, nil
}

var _ AssignmentRepository = (*SQLAssignmentRepository)(nil)
