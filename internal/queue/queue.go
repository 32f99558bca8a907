package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-scheduler/internal/logging"
)

// Publisher hands a rendered step payload to the delivery side. The
// idempotency key travels with the message so the consumer can drop
// duplicates produced by a re-executed step.
type Publisher interface {
	Publish(ctx context.Context, topic, idempotencyKey string, body []byte) error
}

// Message is one published payload.
type Message struct {
	Topic          string
	IdempotencyKey string
	Body           []byte
}

// InMemoryQueue is an in-process Publisher. Publishing a key twice is a no-op,
// which is the duplicate suppression a real consumer is expected to provide.
type InMemoryQueue struct {
	mu       sync.Mutex
	seen     map[string]bool
	messages []Message
	handlers map[string][]func(Message) error
	logger   *zap.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		seen:     make(map[string]bool),
		handlers: make(map[string][]func(Message) error),
		logger:   logging.OrNop(logger),
	}
}

// Publish records the message and hands it to the topic's subscribers. A
// failing subscriber fails the publish so the caller can retry.
func (q *InMemoryQueue) Publish(ctx context.Context, topic, idempotencyKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.seen[idempotencyKey] {
		q.mu.Unlock()
		q.logger.Debug("duplicate publish suppressed",
			zap.String("topic", topic), zap.String("idempotency_key", idempotencyKey))
		return nil
	}
	msg := Message{Topic: topic, IdempotencyKey: idempotencyKey, Body: append([]byte(nil), body...)}
	handlers := append([]func(Message) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(msg); err != nil {
			return err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[idempotencyKey] {
		return nil
	}
	q.seen[idempotencyKey] = true
	q.messages = append(q.messages, msg)
	return nil
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(Message) error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
}

// Messages returns what was accepted on topic, in publish order.
func (q *InMemoryQueue) Messages(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Message
	for _, m := range q.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

var _ Publisher = (*InMemoryQueue)(nil)

// Dedupe wraps a consumer handler so a redelivered idempotency key is
// acknowledged without running next again. It remembers at most max keys.
func Dedupe(max int, next func(Message) error) func(Message) error {
	var (
		mu    sync.Mutex
		seen  = make(map[string]bool, max)
		order []string
	)
	return func(m Message) error {
		mu.Lock()
		dup := seen[m.IdempotencyKey]
		mu.Unlock()
		if dup {
			return nil
		}

		if err := next(m); err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if !seen[m.IdempotencyKey] {
			seen[m.IdempotencyKey] = true
			order = append(order, m.IdempotencyKey)
			if len(order) > max {
				delete(seen, order[0])
				order = order[1:]
			}
		}
		return nil
	}
}
