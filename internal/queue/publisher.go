package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-seat-bot/internal/inventory"
)

// Publisher publishes JSON messages to durable queues.  It keeps one
// connection and channel open and redials after a failure.  Publishing
// errors are logged and returned so callers may ignore them without
// interrupting the booking flow.
type Publisher struct {
	url string
	log *log.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewPublisher(url string, logger *log.Logger) *Publisher {
	return &Publisher{url: url, log: logger, declared: make(map[string]bool)}
}

// PublishReservation sends a status change to ReservationQueue.
func (p *Publisher) PublishReservation(ctx context.Context, ev ReservationEvent) error {
	return p.Publish(ctx, ReservationQueue, ev)
}

// Alert implements inventory.Alerter on AlertQueue.
func (p *Publisher) Alert(ctx context.Context, a inventory.Alert) {
	_ = p.Publish(ctx, AlertQueue, a)
}

// Publish marshals v and sends it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		p.log.Errorf("rabbitmq: marshal %s failed: %v", queue, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(queue)
	if err != nil {
		p.log.Warnf("rabbitmq: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Warnf("rabbitmq: publish to %s failed: %v", queue, err)
		p.reset()
		return err
	}
	return nil
}

// channel returns an open channel with queue declared.  Caller holds p.mu.
func (p *Publisher) channel(queue string) (*amqp.Channel, error) {
	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		p.reset()
		conn, err := amqp.DialConfig(p.url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp.DefaultDial(5 * time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("dial failed: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("channel open failed: %w", err)
		}
		p.conn, p.ch = conn, ch
	}
	if !p.declared[queue] {
		// Durable so messages survive broker restarts.
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.reset()
			return nil, fmt.Errorf("queue declare %s failed: %w", queue, err)
		}
		p.declared[queue] = true
	}
	return p.ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	p.declared = make(map[string]bool)
}

// Close closes the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
