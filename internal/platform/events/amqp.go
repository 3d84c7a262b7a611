package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPPublisher buffers events in memory and publishes them to a durable queue
// from a single goroutine. A full buffer drops the event with a warning.
type AMQPPublisher struct {
	ch     amqpChannel
	queue  string
	logger zerolog.Logger

	mu     sync.RWMutex
	buf    chan Event
	closed bool
	wg     sync.WaitGroup
}

func NewAMQPPublisher(ch *amqp091.Channel, queue string, size int, logger zerolog.Logger) *AMQPPublisher {
	return newAMQPPublisher(ch, queue, size, logger)
}

func newAMQPPublisher(ch amqpChannel, queue string, size int, logger zerolog.Logger) *AMQPPublisher {
	if size <= 0 {
		size = 1
	}
	return &AMQPPublisher{ch: ch, queue: queue, logger: logger, buf: make(chan Event, size)}
}

// DeclareQueue makes sure the durable queue exists.
func DeclareQueue(ch *amqp091.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

func (p *AMQPPublisher) Publish(e Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn().Str("event_id", e.ID.String()).Str("type", e.Type).Msg("publisher closed, event dropped")
		return false
	}
	select {
	case p.buf <- e:
		return true
	default:
		p.logger.Warn().Str("event_id", e.ID.String()).Str("type", e.Type).Msg("event buffer full, event dropped")
		return false
	}
}

// Start drains the buffer until Close is called.
func (p *AMQPPublisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for e := range p.buf {
			p.send(e)
		}
	}()
}

// Close stops accepting events and waits for buffered ones to be sent.
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.buf)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *AMQPPublisher) send(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Error().Err(err).Str("event_id", e.ID.String()).Msg("marshal event")
		return
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    e.ID.String(),
		Type:         e.Type,
		Timestamp:    e.OccurredAt,
		Body:         body,
		Headers:      amqp091.Table{"event_type": e.Type},
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logger.Error().Err(err).Str("event_id", e.ID.String()).Str("queue", p.queue).Msg("publish event")
		return
	}
	p.logger.Debug().Str("event_id", e.ID.String()).Str("type", e.Type).Msg("event published")
}
