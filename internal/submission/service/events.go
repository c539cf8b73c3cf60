package service

import (
	"context"
	"encoding/json"
	"fmt"

	"gradeline/internal/common/mq"
	"gradeline/internal/submission/model"
)

const (
	// DefaultTransitionTopic carries submission TransitionEvents.
	DefaultTransitionTopic = "gradeline.submission.transitions"
	eventHeaderType        = "event-type"
	eventTypeTransition    = "transition"
)

// EventPublisher receives every committed state change.
type EventPublisher interface {
	PublishTransition(ctx context.Context, event model.TransitionEvent) error
}

// MQPublisher publishes TransitionEvents as JSON messages keyed by submission.
type MQPublisher struct {
	producer mq.Producer
	topic    string
}

func NewMQPublisher(producer mq.Producer, topic string) *MQPublisher {
	if topic == "" {
		topic = DefaultTransitionTopic
	}
	return &MQPublisher{producer: producer, topic: topic}
}

func (p *MQPublisher) PublishTransition(ctx context.Context, event model.TransitionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode transition event: %w", err)
	}
	msg := mq.NewMessage(event.EventID, event.SubmissionID, body)
	msg.Timestamp = event.OccurredAt
	msg.SetHeader(eventHeaderType, eventTypeTransition)
	return p.producer.Publish(ctx, p.topic, msg)
}

// DecodeTransition parses a message produced by MQPublisher.
func DecodeTransition(msg *mq.Message) (model.TransitionEvent, error) {
	var event model.TransitionEvent
	if msg == nil {
		return event, fmt.Errorf("message is nil")
	}
	if t := msg.Headers[eventHeaderType]; t != "" && t != eventTypeTransition {
		return event, fmt.Errorf("unexpected event type %q", t)
	}
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return event, fmt.Errorf("decode transition event: %w", err)
	}
	if event.EventID == "" {
		event.EventID = msg.ID
	}
	return event, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishTransition(context.Context, model.TransitionEvent) error { return nil }
