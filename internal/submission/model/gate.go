package model

import (
	"time"

	appErr "gradeline/pkg/errors"
)

// CanModify decides whether actor may change submission s right now.
// file is the current file of s, nil when s has none.
func CanModify(actor Actor, s *Submission, file *File, a *Assignment, now time.Time) error {
	privileged := actor.Privileged(a)
	if !privileged && !s.IsAuthor(actor.UserID) {
		return appErr.ForbiddenError("not an author of this submission")
	}
	if s.State.locked() {
		return appErr.Newf(appErr.SubmissionLocked, "submission is %s", s.State.TutorLabel())
	}
	if s.State.IsTestPending() {
		if file == nil {
			return appErr.Invariant("submission %s is %s without a file", s.ID, s.State)
		}
		if file.IsClaimed() {
			return appErr.Newf(appErr.SubmissionLocked, "file %s is being tested", file.ID)
		}
	}
	if !privileged && a.DeadlinePassed(now) {
		return appErr.New(appErr.DeadlinePassed)
	}
	return nil
}

// CanReupload requires a failed test state on top of CanModify.
func CanReupload(actor Actor, s *Submission, file *File, a *Assignment, now time.Time) error {
	if !s.State.IsFailed() {
		return appErr.Newf(appErr.ReuploadNotAllowed, "re-upload not allowed in state %s", s.State)
	}
	return CanModify(actor, s, file, a, now)
}

// CanWithdraw is CanModify.
func CanWithdraw(actor Actor, s *Submission, file *File, a *Assignment, now time.Time) error {
	return CanModify(actor, s, file, a, now)
}

// CanCreateSubmission decides whether actor may submit to a.
// hasActive tells whether the actor already authors a non-withdrawn submission.
// Staff and admins may always submit, to try their own tests.
func CanCreateSubmission(actor Actor, a *Assignment, hasActive bool, now time.Time) error {
	if actor.Privileged(a) {
		return nil
	}
	if !a.Published(now) {
		return appErr.New(appErr.AssignmentNotOpen)
	}
	if a.DeadlinePassed(now) {
		return appErr.New(appErr.DeadlinePassed)
	}
	if hasActive {
		return appErr.New(appErr.SubmissionExists)
	}
	return nil
}

// CanGrade reports whether actor may run grading actions on a.
func CanGrade(actor Actor, a *Assignment) error {
	if actor.Privileged(a) {
		return nil
	}
	return appErr.ForbiddenError("grading is restricted to course staff")
}

// CanView reports whether actor may see s.
func CanView(actor Actor, s *Submission, a *Assignment) error {
	if actor.Privileged(a) || s.IsAuthor(actor.UserID) {
		return nil
	}
	return appErr.ForbiddenError("")
}
