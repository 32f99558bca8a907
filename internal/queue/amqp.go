package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-scheduler/internal/logging"
)

// AMQPPublisher publishes step payloads to RabbitMQ. Each topic maps to a
// durable queue declared on first use; the idempotency key is sent as the
// AMQP MessageId for consumer-side deduplication.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	declared map[string]bool
	logger   *zap.Logger
}

func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		declared: map[string]bool{},
		logger:   logging.OrNop(logger),
	}, nil
}

func (p *AMQPPublisher) declare(topic string) error {
	if p.declared[topic] {
		return nil
	}
	_, err := p.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if p.exchange != "" {
		if err := p.ch.QueueBind(topic, topic, p.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", topic, err)
		}
	}
	p.declared[topic] = true
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, topic, idempotencyKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// amqp.Channel is not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.declare(topic); err != nil {
		return err
	}
	err := p.ch.Publish(
		p.exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    idempotencyKey,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("published step payload", zap.String("topic", topic), zap.String("idempotency_key", idempotencyKey))
	return nil
}

// Consume delivers messages from topic's queue to handler until ctx ends.
// Messages are acked after handler succeeds and requeued when it fails.
func (p *AMQPPublisher) Consume(ctx context.Context, topic string, handler func(Message) error) error {
	p.mu.Lock()
	if err := p.declare(topic); err != nil {
		p.mu.Unlock()
		return err
	}
	msgs, err := p.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", topic)
			}
			err := handler(Message{Topic: topic, IdempotencyKey: d.MessageId, Body: d.Body})
			if err != nil {
				p.logger.Warn("handler failed, requeueing", zap.String("topic", topic),
					zap.String("idempotency_key", d.MessageId), zap.Error(err))
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		p.logger.Warn("close amqp channel", zap.Error(err))
	}
	return p.conn.Close()
}

var _ Publisher = (*AMQPPublisher)(nil)
