package model

import (
	"time"

	submodel "gradeline/internal/submission/model"
)

// Machine is a registered executor host.
type Machine struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	Address     string    `json:"address"`
	Config      string    `json:"config"`
	LastContact time.Time `json:"last_contact"`
	CreatedAt   time.Time `json:"created_at"`
}

// Candidate is an unclaimed current file of a pending submission.
type Candidate struct {
	File         *submodel.File
	SubmissionID string
	AssignmentID string
	State        submodel.State
}

// Kind is the test the candidate's state asks for.
func (c *Candidate) Kind() (submodel.TestKind, bool) {
	return submodel.KindFor(c.State)
}

// Job is one unit of work handed to an executor.
type Job struct {
	FileID         string            `json:"file_id"`
	SubmissionID   string            `json:"submission_id"`
	AssignmentID   string            `json:"assignment_id"`
	Kind           submodel.TestKind `json:"kind"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	FileName       string            `json:"file_name"`
	File           []byte            `json:"file"`
	ScriptName     string            `json:"script_name,omitempty"`
	Script         []byte            `json:"script,omitempty"`
	CompileCommand string            `json:"compile_command,omitempty"`
}

// StuckJob is a claimed file whose result did not arrive within the assignment timeout.
type StuckJob struct {
	FileID         string         `json:"file_id"`
	SubmissionID   string         `json:"submission_id"`
	AssignmentID   string         `json:"assignment_id"`
	State          submodel.State `json:"state"`
	FetchedAt      time.Time      `json:"fetched_at"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// Overdue reports how long past its timeout the job is at now.
func (j *StuckJob) Overdue(now time.Time) time.Duration {
	return now.Sub(j.FetchedAt.Add(time.Duration(j.TimeoutSeconds) * time.Second))
}
