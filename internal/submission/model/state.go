package model

import "fmt"

// State is the persisted code of a submission's lifecycle position.
type State string

const (
	// StateReceived only exists between upload and the first save.
	StateReceived              State = "R"
	StateWithdrawn             State = "W"
	StateSubmitted             State = "S"
	StateTestCompilePending    State = "PC"
	StateTestCompileFailed     State = "FC"
	StateTestValidityPending   State = "PV"
	StateTestValidityFailed    State = "FV"
	StateTestFullPending       State = "PF"
	StateTestFullFailed        State = "FF"
	StateSubmittedTested       State = "ST"
	StateGradingInProgress     State = "GP"
	StateGraded                State = "G"
	StateClosed                State = "C"
	StateClosedTestFullPending State = "CT"
)

type stateLabels struct {
	tutor   string
	student string
}

var labels = map[State]stateLabels{
	StateReceived:              {"Received", "Received"},
	StateWithdrawn:             {"Withdrawn", "Withdrawn"},
	StateSubmitted:             {"Submitted", "Waiting for grading"},
	StateTestCompilePending:    {"Compilation test pending", "Waiting for compilation test"},
	StateTestCompileFailed:     {"Compilation test failed", "Compilation failed"},
	StateTestValidityPending:   {"Validity test pending", "Waiting for validation test"},
	StateTestValidityFailed:    {"Validity test failed", "Validation failed"},
	StateTestFullPending:       {"Full test pending", "Waiting for grading"},
	StateTestFullFailed:        {"All but full test passed, grading pending", "Waiting for grading"},
	StateSubmittedTested:       {"All tests passed, grading pending", "Waiting for grading"},
	StateGradingInProgress:     {"Grading not finished", "Waiting for grading"},
	StateGraded:                {"Grading finished", "Waiting for grading"},
	StateClosed:                {"Closed, student notified", "Graded"},
	StateClosedTestFullPending: {"Closed, full test pending", "Graded"},
}

// States lists every state code, including the transient RECEIVED.
func States() []State {
	return []State{
		StateReceived, StateWithdrawn, StateSubmitted,
		StateTestCompilePending, StateTestCompileFailed,
		StateTestValidityPending, StateTestValidityFailed,
		StateTestFullPending, StateTestFullFailed,
		StateSubmittedTested, StateGradingInProgress, StateGraded,
		StateClosed, StateClosedTestFullPending,
	}
}

// ParseState validates a persisted state code.
func ParseState(code string) (State, error) {
	s := State(code)
	if !s.Valid() {
		return "", fmt.Errorf("unknown submission state %q", code)
	}
	return s, nil
}

func (s State) Valid() bool {
	_, ok := labels[s]
	return ok
}

// TutorLabel is the label shown to staff.
func (s State) TutorLabel() string {
	return labels[s].tutor
}

// StudentLabel is the label shown to authors; it hides grading progress.
func (s State) StudentLabel() string {
	return labels[s].student
}

// Label picks the label for the viewer.
func (s State) Label(staff bool) string {
	if staff {
		return s.TutorLabel()
	}
	return s.StudentLabel()
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateWithdrawn || s == StateClosed
}

// IsTestPending reports whether s waits for an executor on the current file.
func (s State) IsTestPending() bool {
	switch s {
	case StateTestCompilePending, StateTestValidityPending, StateTestFullPending, StateClosedTestFullPending:
		return true
	}
	return false
}

// IsFailed reports the states that allow re-upload.
func (s State) IsFailed() bool {
	return s == StateTestCompileFailed || s == StateTestValidityFailed || s == StateTestFullFailed
}

// IsGradable reports whether a tutor may start grading or record a grade.
// A failed full test informs grading but does not block it.
func (s State) IsGradable() bool {
	switch s {
	case StateSubmitted, StateSubmittedTested, StateTestFullFailed:
		return true
	}
	return false
}

// locked lists states no author or staff modification may touch.
func (s State) locked() bool {
	switch s {
	case StateWithdrawn, StateGraded, StateGradingInProgress, StateClosed, StateClosedTestFullPending:
		return true
	}
	return false
}

// GradableStates are the states listed as ready for grading, grading in progress included.
var GradableStates = []State{StateGradingInProgress, StateSubmittedTested, StateTestFullFailed, StateSubmitted}

// CompileQueueStates and FullQueueStates feed the executor job queues.
var (
	CompileQueueStates = []State{StateTestCompilePending, StateTestValidityPending}
	FullQueueStates    = []State{StateTestFullPending, StateClosedTestFullPending}
)

// PendingStates are all states in which the current file waits for an executor.
var PendingStates = []State{StateTestCompilePending, StateTestValidityPending, StateTestFullPending, StateClosedTestFullPending}
