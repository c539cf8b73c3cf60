package mq

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue is an in-process MessageQueue for single node deployments.
// Delivery is at most once per subscription and nothing survives a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	subs    map[string][]*memorySubscription
	started bool
	closed  bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	ctx     context.Context
}

type memorySubscription struct {
	handler HandlerFunc
	opts    SubscribeOptions
	ch      chan *Message
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue() *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{subs: make(map[string][]*memorySubscription), ctx: ctx, cancel: cancel}
}

const memoryBuffer = 256

// Publish hands message to every subscription of topic.
// It blocks while a subscriber buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("message queue is closed")
	}
	subs := append([]*memorySubscription(nil), q.subs[topic]...)
	q.mu.Unlock()

	for _, sub := range subs {
		copied := *message
		select {
		case sub.ch <- &copied:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (q *MemoryQueue) Subscribe(_ context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	sub := &memorySubscription{handler: handler, opts: options, ch: make(chan *Message, memoryBuffer)}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.subs[topic] = append(q.subs[topic], sub)
	if q.started {
		q.run(topic, sub)
	}
	return nil
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	if q.started {
		return nil
	}
	for topic, subs := range q.subs {
		for _, sub := range subs {
			q.run(topic, sub)
		}
	}
	q.started = true
	return nil
}

func (q *MemoryQueue) run(topic string, sub *memorySubscription) {
	for i := 0; i < sub.opts.Concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-q.ctx.Done():
					return
				case m := <-sub.ch:
					if !deliver(q.ctx, sub.handler, m, sub.opts) && sub.opts.DeadLetterTopic != "" && sub.opts.DeadLetterTopic != topic {
						_ = q.Publish(q.ctx, sub.opts.DeadLetterTopic, m)
					}
				}
			}
		}()
	}
}

// Stop cancels handlers and waits for them to return.
func (q *MemoryQueue) Stop() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *MemoryQueue) Ping(context.Context) error {
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Stop()
}

var _ MessageQueue = (*MemoryQueue)(nil)
