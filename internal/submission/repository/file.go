package repository

import (
	"context"
	"errors"

	"gradeline/internal/common/db"
	"gradeline/internal/submission/model"
)

var ErrFileNotFound = errors.New("submission file not found")

// FileRepository persists submission file versions. Files are not cached;
// their claim column changes on every fetch and result.
type FileRepository interface {
	Create(ctx context.Context, tx db.Transaction, file *model.File) error
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.File, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]*model.File, error)
	// MarkReplaced links oldID to its successor; ErrStateConflict if it already has one.
	MarkReplaced(ctx context.Context, tx db.Transaction, oldID, newID string) error
	// ReleaseClaim clears fetched_at and reports whether a claim was held.
	ReleaseClaim(ctx context.Context, tx db.Transaction, id string) (bool, error)
}

// SQLFileRepository implements FileRepository.
type SQLFileRepository struct {
	db db.Database
}

func NewFileRepository(database db.Database) *SQLFileRepository {
	return &SQLFileRepository{db: database}
}

const fileColumns = "id, submission_id, object_key, name, size, sha256, fetched_at, replaced_by, created_at"

func (r *SQLFileRepository) Create(ctx context.Context, tx db.Transaction, f *model.File) error {
	if f == nil || f.ID == "" || f.SubmissionID == "" || f.ObjectKey == "" {
		return errors.New("file id, submission and object key are required")
	}
	var fetched interface{}
	if f.FetchedAt != nil {
		fetched = db.Millis(*f.FetchedAt)
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, `
		INSERT INTO submission_files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SubmissionID, f.ObjectKey, f.Name, f.Size, f.SHA256,
		fetched, db.NullString(f.ReplacedBy), db.Millis(f.CreatedAt),
	)
	return err
}

func (r *SQLFileRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.File, error) {
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT "+fileColumns+" FROM submission_files WHERE id = ?", id)
	f, err := ScanFile(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

// ListBySubmission returns every version of a submission, oldest first.
func (r *SQLFileRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*model.File, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+fileColumns+" FROM submission_files WHERE submission_id = ? ORDER BY created_at ASC", submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.File
	for rows.Next() {
		f, err := ScanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLFileRepository) MarkReplaced(ctx context.Context, tx db.Transaction, oldID, newID string) error {
	affected, err := db.RowsAffected(db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE submission_files SET replaced_by = ? WHERE id = ? AND replaced_by IS NULL", newID, oldID))
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrStateConflict
	}
	return nil
}

func (r *SQLFileRepository) ReleaseClaim(ctx context.Context, tx db.Transaction, id string) (bool, error) {
	affected, err := db.RowsAffected(db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE submission_files SET fetched_at = NULL WHERE id = ? AND fetched_at IS NOT NULL", id))
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// FileColumns is the select list ScanFile expects.
const FileColumns = fileColumns

// ScanFile decodes a row selected with FileColumns.
func ScanFile(row interface{ Scan(...interface{}) error }) (*model.File, error) {
	var (
		f          model.File
		fetchedAt  *int64
		replacedBy *string
		createdAt  int64
	)
	if err := row.Scan(&f.ID, &f.SubmissionID, &f.ObjectKey, &f.Name, &f.Size, &f.SHA256,
		&fetchedAt, &replacedBy, &createdAt); err != nil {
		return nil, err
	}
	if fetchedAt != nil {
		t := db.FromMillis(*fetchedAt)
		f.FetchedAt = &t
	}
	if replacedBy != nil {
		f.ReplacedBy = *replacedBy
	}
	f.CreatedAt = db.FromMillis(createdAt)
	return &f, nil
}

var _ FileRepository = (*SQLFileRepository)(nil)
