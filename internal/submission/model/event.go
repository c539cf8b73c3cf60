package model

import "time"

// TransitionEvent records that a submission changed state.
type TransitionEvent struct {
	EventID         string    `json:"event_id"`
	SubmissionID    string    `json:"submission_id"`
	AssignmentID    string    `json:"assignment_id"`
	AssignmentTitle string    `json:"assignment_title"`
	From            State     `json:"from"`
	To              State     `json:"to"`
	Authors         []Author  `json:"authors"`
	Owner           Author    `json:"owner"`
	ActorID         string    `json:"actor_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
