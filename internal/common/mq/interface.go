package mq

import (
	"context"
	"time"
)

// MessageQueue combines publishing and consuming on one backend.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close stops consumers and releases connections
	Close() error
}

// Producer publishes messages to topics
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer dispatches messages of subscribed topics to handlers
type Consumer interface {
	// Subscribe registers handler for topic; consumption begins at Start
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	Start() error

	// Stop waits for in-flight handlers to return
	Stop() error
}

// Message is one queued payload
type Message struct {
	ID         string            `json:"id"`
	Key        string            `json:"key"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
}

// HandlerFunc processes one message; a non-nil error schedules a redelivery
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes a subscription
type SubscribeOptions struct {
	// ConsumerGroup is the Kafka consumer group
	ConsumerGroup string

	// Concurrency is the number of handler goroutines. Default: 1
	Concurrency int

	// MaxRetries bounds handler attempts per message. Default: 3
	MaxRetries int

	// RetryDelay is the pause between attempts. Default: 1s
	RetryDelay time.Duration

	// DeadLetterTopic receives messages that exhausted their retries
	DeadLetterTopic string
}

// SetDefaults fills zero values
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message with the given id, partition key and body
func NewMessage(id, key string, body []byte) *Message {
	return &Message{
		ID:        id,
		Key:       key,
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// deliver runs handler with bounded attempts and reports whether it succeeded.
func deliver(ctx context.Context, handler HandlerFunc, m *Message, opts SubscribeOptions) bool {
	for {
		if err := handler(ctx, m); err == nil {
			return true
		}
		m.RetryCount++
		if m.RetryCount >= opts.MaxRetries {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(opts.RetryDelay):
		}
	}
}
