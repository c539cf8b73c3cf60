package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gradeline/internal/common/db"
	"gradeline/internal/executor/model"

	"github.com/google/uuid"
)

var ErrMachineNotFound = errors.New("executor machine not found")

// MachineRepository persists executor machines and their assignment bindings.
type MachineRepository interface {
	// Upsert registers host or refreshes its address, config and last contact.
	Upsert(ctx context.Context, host, address, config string, now time.Time) (*model.Machine, error)
	GetByHost(ctx context.Context, host string) (*model.Machine, error)
	List(ctx context.Context) ([]*model.Machine, error)
	Touch(ctx context.Context, id string, now time.Time) error
	// ListAssigned returns the machines bound to an assignment; empty means open to all.
	ListAssigned(ctx context.Context, assignmentID string) ([]*model.Machine, error)
	Assign(ctx context.Context, assignmentID, machineID string) error
	Unassign(ctx context.Context, assignmentID, machineID string) (bool, error)
}

// SQLMachineRepository implements MachineRepository.
type SQLMachineRepository struct {
	db db.Database
}

func NewMachineRepository(database db.Database) *SQLMachineRepository {
	return &SQLMachineRepository{db: database}
}

const machineColumns = "id, host, address, config, last_contact, created_at"

func (r *SQLMachineRepository) Upsert(ctx context.Context, host, address, config string, now time.Time) (*model.Machine, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("host is required")
	}
	updated, err := r.refresh(ctx, host, address, config, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		_, err = r.db.Exec(ctx, `
			INSERT INTO executor_machines (`+machineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), host, address, config, db.Millis(now), db.Millis(now),
		)
		if err != nil {
			if !db.IsUniqueViolation(err) {
				return nil, err
			}
			// Registered concurrently; fall back to the update.
			if _, err := r.refresh(ctx, host, address, config, now); err != nil {
				return nil, err
			}
		}
	}
	return r.GetByHost(ctx, host)
}

func (r *SQLMachineRepository) refresh(ctx context.Context, host, address, config string, now time.Time) (bool, error) {
	affected, err := db.RowsAffected(r.db.Exec(ctx,
		"UPDATE executor_machines SET address = ?, config = ?, last_contact = ? WHERE host = ?",
		address, config, db.Millis(now), host))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *SQLMachineRepository) GetByHost(ctx context.Context, host string) (*model.Machine, error) {
	row := r.db.QueryRow(ctx, "SELECT "+machineColumns+" FROM executor_machines WHERE host = ?", host)
	m, err := scanMachine(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrMachineNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *SQLMachineRepository) List(ctx context.Context) ([]*model.Machine, error) {
	return r.list(ctx, "SELECT "+machineColumns+" FROM executor_machines ORDER BY host")
}

func (r *SQLMachineRepository) Touch(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.Exec(ctx, "UPDATE executor_machines SET last_contact = ? WHERE id = ?", db.Millis(now), id)
	return err
}

func (r *SQLMachineRepository) ListAssigned(ctx context.Context, assignmentID string) ([]*model.Machine, error) {
	return r.list(ctx, `
		SELECT m.id, m.host, m.address, m.config, m.last_contact, m.created_at
		FROM executor_machines m
		JOIN assignment_machines am ON am.machine_id = m.id
		WHERE am.assignment_id = ?
		ORDER BY m.host`, assignmentID)
}

func (r *SQLMachineRepository) Assign(ctx context.Context, assignmentID, machineID string) error {
	var n int
	if err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM assignment_machines WHERE assignment_id = ? AND machine_id = ?",
		assignmentID, machineID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		"INSERT INTO assignment_machines (assignment_id, machine_id) VALUES (?, ?)", assignmentID, machineID)
	if db.IsUniqueViolation(err) {
		return nil
	}
	return err
}

func (r *SQLMachineRepository) Unassign(ctx context.Context, assignmentID, machineID string) (bool, error) {
	affected, err := db.RowsAffected(r.db.Exec(ctx,
		"DELETE FROM assignment_machines WHERE assignment_id = ? AND machine_id = ?", assignmentID, machineID))
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *SQLMachineRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Machine, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMachine(row interface{ Scan(...interface{}) error }) (*model.Machine, error) {
	var (
		m                      model.Machine
		lastContact, createdAt int64
	)
	if err := row.Scan(&m.ID, &m.Host, &m.Address, &m.Config, &lastContact, &createdAt); err != nil {
		return nil, err
	}
	m.LastContact = db.FromMillis(lastContact)
	m.CreatedAt = db.FromMillis(createdAt)
	return &m, nil
}
