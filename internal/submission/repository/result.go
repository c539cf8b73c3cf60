package repository

import (
	"context"
	"errors"
	"fmt"

	"gradeline/internal/common/db"
	"gradeline/internal/submission/model"
)

// ResultRepository stores immutable executor results.
type ResultRepository interface {
	Create(ctx context.Context, tx db.Transaction, result *model.TestResult) error
	ListByFile(ctx context.Context, fileID string) ([]*model.TestResult, error)
	// LatestByKind returns the newest result of each kind recorded for fileID.
	LatestByKind(ctx context.Context, fileID string) (map[model.TestKind]*model.TestResult, error)
	// AssignmentHasPerfData reports whether any result of the assignment carries performance data.
	AssignmentHasPerfData(ctx context.Context, assignmentID string) (bool, error)
}

// SQLResultRepository implements ResultRepository.
type SQLResultRepository struct {
	db db.Database
}

func NewResultRepository(database db.Database) *SQLResultRepository {
	return &SQLResultRepository{db: database}
}

const resultColumns = "id, file_id, machine_id, kind, result, exit_code, perf_data, created_at"

func (r *SQLResultRepository) Create(ctx context.Context, tx db.Transaction, res *model.TestResult) error {
	if res == nil || res.ID == "" || res.FileID == "" || res.MachineID == "" {
		return errors.New("result id, file and machine are required")
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, `
		INSERT INTO submission_test_results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.FileID, res.MachineID, string(res.Kind), res.Result, res.ExitCode, res.PerfData,
		db.Millis(res.CreatedAt),
	)
	return err
}

// ListByFile returns results newest first.
func (r *SQLResultRepository) ListByFile(ctx context.Context, fileID string) ([]*model.TestResult, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+resultColumns+" FROM submission_test_results WHERE file_id = ? ORDER BY created_at DESC, id DESC", fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.TestResult
	for rows.Next() {
		var (
			res       model.TestResult
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&res.ID, &res.FileID, &res.MachineID, &kind, &res.Result, &res.ExitCode,
			&res.PerfData, &createdAt); err != nil {
			return nil, err
		}
		k, err := model.ParseTestKind(kind)
		if err != nil {
			return nil, fmt.Errorf("result %s: %w", res.ID, err)
		}
		res.Kind = k
		res.CreatedAt = db.FromMillis(createdAt)
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (r *SQLResultRepository) LatestByKind(ctx context.Context, fileID string) (map[model.TestKind]*model.TestResult, error) {
	all, err := r.ListByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	latest := make(map[model.TestKind]*model.TestResult, 3)
	for _, res := range all {
		if _, ok := latest[res.Kind]; !ok {
			latest[res.Kind] = res
		}
	}
	return latest, nil
}

func (r *SQLResultRepository) AssignmentHasPerfData(ctx context.Context, assignmentID string) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx, `
		SELECT 1 FROM submission_test_results r
		JOIN submission_files f ON f.id = r.file_id
		JOIN submissions s ON s.id = f.submission_id
		WHERE s.assignment_id = ? AND r.perf_data <> ''
		LIMIT 1`, assignmentID).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ ResultRepository = (*SQLResultRepository)(nil)
