package repository

import (
	"context"
	"strings"
	"time"

	"gradeline/internal/common/db"
	"gradeline/internal/executor/model"
	submodel "gradeline/internal/submission/model"
	subrepo "gradeline/internal/submission/repository"
)

// Order is the state ordering of a queue.
type Order string

const (
	OrderStateAsc  Order = "ASC"
	OrderStateDesc Order = "DESC"
)

// Queue is one executor job queue: its states and their priority.
type Queue struct {
	Name   string
	States []submodel.State
	Order  Order
}

// Queues are drained in this order; compile and validity checks go first.
var Queues = []Queue{
	{Name: "compile", States: submodel.CompileQueueStates, Order: OrderStateAsc},
	{Name: "full", States: submodel.FullQueueStates, Order: OrderStateDesc},
}

// QueueRepository selects and claims executor jobs. Selection is a plain read;
// the claim is the only write and it is a conditional UPDATE.
type QueueRepository interface {
	Candidates(ctx context.Context, host string, q Queue, limit int) ([]*model.Candidate, error)
	// Claim marks the file fetched if it is still unclaimed, current and its
	// submission is still in the state it was selected in.
	Claim(ctx context.Context, fileID string, state submodel.State, now time.Time) (bool, error)
	// Stuck lists claims older than their assignment timeout. A non-empty fileID narrows the list.
	Stuck(ctx context.Context, now time.Time, fileID string) ([]*model.StuckJob, error)
	// Requeue clears the claim of a current file.
	Requeue(ctx context.Context, fileID string) (bool, error)
}

// SQLQueueRepository implements QueueRepository.
type SQLQueueRepository struct {
	db db.Database
}

func NewQueueRepository(database db.Database) *SQLQueueRepository {
	return &SQLQueueRepository{db: database}
}

var prefixedFileColumns = "f." + strings.ReplaceAll(subrepo.FileColumns, ", ", ", f.")

// An assignment without machine bindings is served by every host.
const eligibleForHost = `(
		NOT EXISTS (SELECT 1 FROM assignment_machines am WHERE am.assignment_id = s.assignment_id)
		OR EXISTS (
			SELECT 1 FROM assignment_machines am
			JOIN executor_machines m ON m.id = am.machine_id
			WHERE am.assignment_id = s.assignment_id AND m.host = ?
		)
	)`

func (r *SQLQueueRepository) Candidates(ctx context.Context, host string, q Queue, limit int) ([]*model.Candidate, error) {
	if len(q.States) == 0 {
		return nil, nil
	}
	order := OrderStateAsc
	if q.Order == OrderStateDesc {
		order = OrderStateDesc
	}
	if limit <= 0 {
		limit = 10
	}
	args := make([]interface{}, 0, len(q.States)+2)
	for _, s := range q.States {
		args = append(args, string(s))
	}
	args = append(args, host, limit)

	rows, err := r.db.Query(ctx, `
		SELECT `+prefixedFileColumns+`, s.assignment_id, s.state
		FROM submission_files f
		JOIN submissions s ON s.file_id = f.id
		WHERE s.state IN (`+db.Placeholders(len(q.States))+`)
			AND f.fetched_at IS NULL
			AND f.replaced_by IS NULL
			AND `+eligibleForHost+`
		ORDER BY s.state `+string(order)+`, s.modified_at DESC, f.id
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Candidate
	for rows.Next() {
		c := &model.Candidate{}
		var state string
		f, err := subrepo.ScanFile(withTrailing{rows, []interface{}{&c.AssignmentID, &state}})
		if err != nil {
			return nil, err
		}
		c.File = f
		c.SubmissionID = f.SubmissionID
		c.State = submodel.State(state)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLQueueRepository) Claim(ctx context.Context, fileID string, state submodel.State, now time.Time) (bool, error) {
	if !state.IsTestPending() {
		return false, nil
	}
	affected, err := db.RowsAffected(r.db.Exec(ctx, `
		UPDATE submission_files SET fetched_at = ?
		WHERE id = ? AND fetched_at IS NULL AND replaced_by IS NULL
			AND EXISTS (
				SELECT 1 FROM submissions s
				WHERE s.file_id = submission_files.id AND s.state = ?
			)`, db.Millis(now), fileID, string(state)))
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SQLQueueRepository) Stuck(ctx context.Context, now time.Time, fileID string) ([]*model.StuckJob, error) {
	args := []interface{}{}
	for _, s := range submodel.PendingStates {
		args = append(args, string(s))
	}
	args = append(args, db.Millis(now))
	query := `
		SELECT f.id, s.id, s.assignment_id, s.state, f.fetched_at, a.timeout_seconds
		FROM submission_files f
		JOIN submissions s ON s.file_id = f.id
		JOIN assignments a ON a.id = s.assignment_id
		WHERE f.fetched_at IS NOT NULL
			AND s.state IN (` + db.Placeholders(len(submodel.PendingStates)) + `)
			AND f.fetched_at + a.timeout_seconds * 1000 < ?`
	if fileID != "" {
		query += " AND f.id = ?"
		args = append(args, fileID)
	}
	query += " ORDER BY f.fetched_at, f.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StuckJob
	for rows.Next() {
		var (
			j         model.StuckJob
			state     string
			fetchedAt int64
		)
		if err := rows.Scan(&j.FileID, &j.SubmissionID, &j.AssignmentID, &state, &fetchedAt, &j.TimeoutSeconds); err != nil {
			return nil, err
		}
		j.State = submodel.State(state)
		j.FetchedAt = db.FromMillis(fetchedAt)
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (r *SQLQueueRepository) Requeue(ctx context.Context, fileID string) (bool, error) {
	affected, err := db.RowsAffected(r.db.Exec(ctx,
		"UPDATE submission_files SET fetched_at = NULL WHERE id = ? AND fetched_at IS NOT NULL AND replaced_by IS NULL",
		fileID))
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// withTrailing scans extra columns that follow the ones the wrapped scanner knows.
type withTrailing struct {
	rows  db.Rows
	extra []interface{}
}

func (w withTrailing) Scan(dest ...interface{}) error {
	return w.rows.Scan(append(dest, w.extra...)...)
}
