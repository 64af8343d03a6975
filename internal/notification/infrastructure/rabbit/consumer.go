package rabbit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pubflow/publications-platform/internal/notification/application"
	"github.com/pubflow/publications-platform/pkg/tracing"
)

// Deduper is the consumer's idempotency check, keyed by broker messageId.
// Seen must be side-effect free; Mark is called only after the message has
// been handled, so a requeued failure is still eligible on redelivery.
type Deduper interface {
	Key(messageID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Config struct {
	URL      string
	Exchange string
	Queue    string
	// Bindings are the routing-key patterns the queue subscribes to.
	Bindings []string
}

type Consumer struct {
	log    *slog.Logger
	cfg    Config
	svc    *application.Service
	idem   Deduper
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, cfg Config, svc *application.Service, idem Deduper) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if len(cfg.Bindings) == 0 {
		cfg.Bindings = []string{"publication.*", "review.*"}
	}
	return &Consumer{
		log:    log,
		cfg:    cfg,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("notification-consumer"),
	}
}

// Run consumes until ctx is cancelled, redialling with a flat backoff when
// the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			c.log.Error("consumer connection lost", "err", err)
		}
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopping")
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for _, key := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return err
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info("consuming", "queue", q.Name, "bindings", c.cfg.Bindings)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	if d.MessageId != "" {
		seen, err := c.idem.Seen(ctx, c.idem.Key(d.MessageId))
		if err != nil {
			c.log.Error("idempotency check failed", "message_id", d.MessageId, "err", err)
			// Cannot prove we haven't handled it; requeue rather than act twice.
			_ = d.Nack(false, true)
			return
		}
		if seen {
			c.log.Info("duplicate delivery skipped", "message_id", d.MessageId)
			_ = d.Ack(false)
			return
		}
	}

	msgCtx := tracing.ExtractAMQPHeaders(ctx, d.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "HandleEvent")
	defer span.End()

	err := c.svc.Handle(msgCtx, eventType(d), d.Body)
	switch {
	case err == nil:
		c.log.Info("notification stored", "event_type", eventType(d), "message_id", d.MessageId)
		c.mark(ctx, d.MessageId)
		_ = d.Ack(false)
	case errors.Is(err, application.ErrUnhandledEvent):
		c.log.Debug("event type ignored", "event_type", eventType(d))
		c.mark(ctx, d.MessageId)
		_ = d.Ack(false)
	case d.Redelivered:
		// Second failure for this delivery; drop it instead of looping.
		c.log.Error("handling failed twice, dropping", "message_id", d.MessageId, "err", err)
		_ = d.Nack(false, false)
	default:
		c.log.Warn("handling failed, requeueing", "message_id", d.MessageId, "err", err)
		_ = d.Nack(false, true)
	}
}

// mark records a handled messageId. A failed mark is logged and tolerated:
// the message is acked anyway, and if the broker ever redelivers that id the
// notification repository sees a duplicate row, which is within the
// at-least-once contract.
func (c *Consumer) mark(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := c.idem.Mark(ctx, c.idem.Key(messageID)); err != nil {
		c.log.Error("idempotency mark failed", "message_id", messageID, "err", err)
	}
}

// eventType prefers the message Type property, falling back to the
// introspection header and finally the routing key.
func eventType(d amqp.Delivery) string {
	if d.Type != "" {
		return d.Type
	}
	if v, ok := d.Headers["event_type"].(string); ok && v != "" {
		return v
	}
	return d.RoutingKey
}
