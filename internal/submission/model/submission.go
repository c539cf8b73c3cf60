package model

import (
	"slices"
	"strings"
	"time"
)

// Author is a user credited on a submission.
type Author struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Grade is the tutor's outcome for a submission.
type Grade struct {
	Title  string `json:"title"`
	Passed bool   `json:"passed"`
}

// Submission is a student's attempt at an assignment.
type Submission struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	SubmitterID  string    `json:"submitter_id"`
	Authors      []Author  `json:"authors"`
	FileID       string    `json:"file_id,omitempty"`
	State        State     `json:"state"`
	Grade        *Grade    `json:"grade,omitempty"`
	GradingNotes string    `json:"grading_notes,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// IsAuthor reports whether userID is the submitter or a co-author.
func (s *Submission) IsAuthor(userID string) bool {
	if userID == "" {
		return false
	}
	if s.SubmitterID == userID {
		return true
	}
	for _, a := range s.Authors {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

// AuthorEmails returns the distinct, sorted, non-empty author addresses.
// Addresses differing only in case are the same mailbox.
func (s *Submission) AuthorEmails() []string {
	return DistinctEmails(s.Authors)
}

// DistinctEmails returns the distinct, sorted, non-empty addresses of authors.
func DistinctEmails(authors []Author) []string {
	seen := make(map[string]struct{}, len(authors))
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		email := strings.TrimSpace(a.Email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	slices.Sort(out)
	return out
}

// File is one uploaded version of a submission.
type File struct {
	ID           string     `json:"id"`
	SubmissionID string     `json:"submission_id"`
	ObjectKey    string     `json:"object_key"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	SHA256       string     `json:"sha256"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
	ReplacedBy   string     `json:"replaced_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsClaimed reports whether an executor holds the file without having reported.
func (f *File) IsClaimed() bool {
	return f != nil && f.FetchedAt != nil
}

// IsCurrent reports whether no newer version replaced the file.
func (f *File) IsCurrent() bool {
	return f != nil && f.ReplacedBy == ""
}

// TestResult is the immutable outcome of one executor run.
type TestResult struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	MachineID string    `json:"machine_id"`
	Kind      TestKind  `json:"kind"`
	Result    string    `json:"result"`
	ExitCode  int       `json:"exit_code"`
	PerfData  string    `json:"perf_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Passed applies the script contract: exit code zero passes.
func (r *TestResult) Passed() bool {
	return r.ExitCode == 0
}
