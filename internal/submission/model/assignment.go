package model

import (
	"fmt"
	"time"
)

// TestKind names an executor test phase.
type TestKind string

const (
	KindCompile  TestKind = "compile"
	KindValidate TestKind = "validate"
	KindFull     TestKind = "full"
)

// ParseTestKind rejects anything outside the three phases.
func ParseTestKind(v string) (TestKind, error) {
	switch k := TestKind(v); k {
	case KindCompile, KindValidate, KindFull:
		return k, nil
	}
	return "", fmt.Errorf("unknown test kind %q", v)
}

// KindFor returns the test phase an executor runs for a pending state.
func KindFor(s State) (TestKind, bool) {
	switch s {
	case StateTestCompilePending:
		return KindCompile, true
	case StateTestValidityPending:
		return KindValidate, true
	case StateTestFullPending, StateClosedTestFullPending:
		return KindFull, true
	}
	return "", false
}

const (
	DefaultTimeoutSeconds = 30
	DefaultCompileCommand = "make"
)

// Pipeline is the set of test phases configured on an assignment.
type Pipeline struct {
	Compile  bool
	Validity bool
	Full     bool
}

// HasTests reports whether any executor phase is configured.
func (p Pipeline) HasTests() bool {
	return p.Compile || p.Validity || p.Full
}

// InitialState is where a fresh file enters the lifecycle.
func (p Pipeline) InitialState() State {
	switch {
	case p.Compile:
		return StateTestCompilePending
	case p.Validity:
		return StateTestValidityPending
	case p.Full:
		return StateTestFullPending
	}
	return StateSubmitted
}

// Assignment carries the pipeline configuration and course staff of an assignment.
type Assignment struct {
	ID                string    `json:"id"`
	CourseID          string    `json:"course_id"`
	Title             string    `json:"title"`
	PublishAt         time.Time `json:"publish_at"`
	HardDeadline      time.Time `json:"hard_deadline"`
	CompileTest       bool      `json:"compile_test"`
	ValidityScriptKey string    `json:"validity_script_key,omitempty"`
	FullScriptKey     string    `json:"full_script_key,omitempty"`
	TimeoutSeconds    int       `json:"timeout_seconds"`
	CompileCommand    string    `json:"compile_command"`
	Owner             Author    `json:"owner"`
	Tutors            []Author  `json:"tutors,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (a *Assignment) Pipeline() Pipeline {
	return Pipeline{
		Compile:  a.CompileTest,
		Validity: a.ValidityScriptKey != "",
		Full:     a.FullScriptKey != "",
	}
}

// Timeout is the per-test limit handed to executors.
func (a *Assignment) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Command returns the compile command, defaulting to make.
func (a *Assignment) Command() string {
	if a.CompileCommand == "" {
		return DefaultCompileCommand
	}
	return a.CompileCommand
}

// ScriptKey returns the object key of the script for a test kind.
func (a *Assignment) ScriptKey(kind TestKind) string {
	switch kind {
	case KindValidate:
		return a.ValidityScriptKey
	case KindFull:
		return a.FullScriptKey
	}
	return ""
}

// IsStaff reports course owner or tutor membership.
func (a *Assignment) IsStaff(userID string) bool {
	if userID == "" {
		return false
	}
	if a.Owner.UserID == userID {
		return true
	}
	for _, t := range a.Tutors {
		if t.UserID == userID {
			return true
		}
	}
	return false
}

// DeadlinePassed reports whether now is past a configured hard deadline.
func (a *Assignment) DeadlinePassed(now time.Time) bool {
	return !a.HardDeadline.IsZero() && now.After(a.HardDeadline)
}

// Published reports whether students can see the assignment at now.
func (a *Assignment) Published(now time.Time) bool {
	return a.PublishAt.IsZero() || !now.Before(a.PublishAt)
}

// Actor is the authenticated caller of a submission action.
type Actor struct {
	UserID string
	Email  string
	Admin  bool
}

// Privileged reports whether the actor bypasses deadlines on a.
func (act Actor) Privileged(a *Assignment) bool {
	return act.Admin || a.IsStaff(act.UserID)
}
