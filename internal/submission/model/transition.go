package model

import (
	appErr "gradeline/pkg/errors"
)

// Action is a manual operation on a submission.
type Action string

const (
	ActionWithdraw      Action = "withdraw"
	ActionReupload      Action = "reupload"
	ActionStartGrading  Action = "start_grading"
	ActionGrade         Action = "grade"
	ActionReopenGrading Action = "reopen_grading"
	ActionClose         Action = "close"
	ActionFullRetest    Action = "full_retest"
)

// Next returns the state reached by applying action in s for pipeline p.
// It checks only the state machine; permission gates are separate.
func Next(s State, action Action, p Pipeline) (State, error) {
	switch action {
	case ActionWithdraw:
		if s != StateReceived && !s.locked() {
			return StateWithdrawn, nil
		}
	case ActionReupload:
		if s.IsFailed() {
			return p.InitialState(), nil
		}
		return "", appErr.Newf(appErr.ReuploadNotAllowed, "re-upload not allowed in state %s", s)
	case ActionStartGrading:
		if s.IsGradable() {
			return StateGradingInProgress, nil
		}
	case ActionGrade:
		if s == StateGradingInProgress || s.IsGradable() {
			return StateGraded, nil
		}
	case ActionReopenGrading:
		if s == StateGraded {
			return StateGradingInProgress, nil
		}
	case ActionClose:
		if s == StateGraded {
			return StateClosed, nil
		}
	case ActionFullRetest:
		if !p.Full {
			return "", appErr.New(appErr.NoFullTestConfigured)
		}
		switch s {
		case StateSubmittedTested, StateTestFullFailed:
			return StateTestFullPending, nil
		case StateGraded, StateClosed:
			return StateClosedTestFullPending, nil
		}
	default:
		return "", appErr.Newf(appErr.InvalidParams, "unknown action %q", action)
	}
	return "", appErr.Newf(appErr.InvalidTransition, "%s not allowed in state %s", action, s)
}

// OnResult returns the state reached when a result of kind arrives in state s.
// ok is false when the result does not belong to the phase s is waiting for.
func OnResult(s State, kind TestKind, passed bool, p Pipeline) (next State, ok bool) {
	switch {
	case s == StateTestCompilePending && kind == KindCompile:
		if !passed {
			return StateTestCompileFailed, true
		}
		switch {
		case p.Validity:
			return StateTestValidityPending, true
		case p.Full:
			return StateTestFullPending, true
		}
		return StateSubmittedTested, true
	case s == StateTestValidityPending && kind == KindValidate:
		if !passed {
			return StateTestValidityFailed, true
		}
		if p.Full {
			return StateTestFullPending, true
		}
		return StateSubmittedTested, true
	case s == StateTestFullPending && kind == KindFull:
		if !passed {
			return StateTestFullFailed, true
		}
		return StateSubmittedTested, true
	case s == StateClosedTestFullPending && kind == KindFull:
		// Closed stays closed; the new result needs a manual re-grade.
		return StateClosed, true
	}
	return s, false
}
