package rabbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pubflow/publications-platform/pkg/outbox"
	"github.com/pubflow/publications-platform/pkg/tracing"
)

type Config struct {
	URL      string
	Exchange string
	// RoutingAliases overrides the routing key for specific event types;
	// absent entries pass the event type through unchanged.
	RoutingAliases map[string]string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "publication-events"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// Publisher owns one confirm-mode channel to the broker. Publishes resolve
// only after the broker acknowledges the message; a NACK, timeout or dead
// channel surfaces as *outbox.PublishError. The channel is re-established
// lazily on the next publish after a connection loss.
type Publisher struct {
	log *slog.Logger
	cfg Config

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(log *slog.Logger, cfg Config) *Publisher {
	return &Publisher{log: log, cfg: cfg.withDefaults()}
}

// Connect establishes the connection and channel and declares the durable
// topic exchange. Safe to call when already connected.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureLocked(ctx)
}

func (p *Publisher) ensureLocked(_ context.Context) error {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.teardownLocked()

	conn, err := amqp.DialConfig(p.cfg.URL, amqp.Config{
		Dial:      amqp.DefaultDial(p.cfg.ConnectTimeout),
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.conn = conn
	p.ch = ch
	p.log.Info("broker connected", "exchange", p.cfg.Exchange)
	return nil
}

// Publish sends one persistent message and waits for the broker's confirm.
// The event id rides as messageId so consumers can deduplicate redeliveries.
func (p *Publisher) Publish(ctx context.Context, ev outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLocked(ctx); err != nil {
		return &outbox.PublishError{EventID: ev.ID, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	headers := amqp.Table{
		"aggregate_id":   ev.AggregateID,
		"aggregate_type": ev.AggregateType,
		"event_type":     ev.EventType,
		"retry_count":    int32(ev.RetryCount),
	}
	tracing.InjectAMQPHeaders(ctx, headers)

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		p.cfg.Exchange,
		p.routingKey(ev.EventType),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.CreatedAt,
			Type:         ev.EventType,
			Headers:      headers,
			Body:         ev.Payload,
		})
	if err != nil {
		p.teardownLocked()
		return &outbox.PublishError{EventID: ev.ID, Err: err}
	}

	select {
	case <-ctx.Done():
		// The confirm never arrived; assume the channel is unhealthy so the
		// next publish redials instead of waiting on it again.
		p.teardownLocked()
		return &outbox.PublishError{EventID: ev.ID, Err: fmt.Errorf("confirm wait: %w", ctx.Err())}
	case <-confirm.Done():
		if !confirm.Acked() {
			return &outbox.PublishError{EventID: ev.ID, Err: errors.New("broker nacked message")}
		}
	}
	return nil
}

func (p *Publisher) routingKey(eventType string) string {
	if alias, ok := p.cfg.RoutingAliases[eventType]; ok {
		return alias
	}
	return eventType
}

func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

// Close tears the channel and connection down, swallowing close-time errors.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

func (p *Publisher) teardownLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
