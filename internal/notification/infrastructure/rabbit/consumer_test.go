package rabbit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pubflow/publications-platform/internal/notification/application"
	"github.com/pubflow/publications-platform/internal/notification/domain"
	pubdomain "github.com/pubflow/publications-platform/internal/publication/domain"
)

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{seen: make(map[string]bool)} }

func (d *memDeduper) Key(id string) string { return "idem:msg:" + id }

func (d *memDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *memDeduper) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}

type memRepo struct {
	mu       sync.Mutex
	saved    []domain.Notification
	failures int
}

func (r *memRepo) Save(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	r.saved = append(r.saved, n)
	return nil
}

type ackRecorder struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func testConsumer(repo *memRepo, idem Deduper) *Consumer {
	svc := application.NewService(repo)
	return NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Exchange: "publication-events"}, svc, idem)
}

func delivery(ack *ackRecorder, msgID, eventType string, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		MessageId:    msgID,
		Type:         eventType,
		RoutingKey:   eventType,
		Body:         body,
	}
}

func TestHandleStoresNotificationAndAcks(t *testing.T) {
	repo := &memRepo{}
	c := testConsumer(repo, newMemDeduper())
	ack := &ackRecorder{}

	body := []byte(`{"publication_id":"p1","title":"T","author_id":"author-1"}`)
	c.handle(context.Background(), delivery(ack, "msg-1", pubdomain.EventPublicationSubmitted, body))

	if len(repo.saved) != 1 {
		t.Fatalf("saved = %d, want 1", len(repo.saved))
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("acks=%d nacks=%d, want 1/0", ack.acks, ack.nacks)
	}
}

func TestDuplicateMessageIsAckedWithoutHandling(t *testing.T) {
	repo := &memRepo{}
	c := testConsumer(repo, newMemDeduper())
	ack := &ackRecorder{}

	body := []byte(`{"publication_id":"p1","title":"T","author_id":"author-1"}`)
	d := delivery(ack, "msg-dup", pubdomain.EventPublicationSubmitted, body)
	c.handle(context.Background(), d)
	c.handle(context.Background(), d)

	if len(repo.saved) != 1 {
		t.Fatalf("duplicate delivery was handled twice (saved=%d)", len(repo.saved))
	}
	if ack.acks != 2 {
		t.Fatalf("acks = %d, want 2 (duplicate still acked)", ack.acks)
	}
}

func TestUnknownEventTypeIsAcked(t *testing.T) {
	repo := &memRepo{}
	c := testConsumer(repo, newMemDeduper())
	ack := &ackRecorder{}

	c.handle(context.Background(), delivery(ack, "msg-2", "author.registered", []byte(`{}`)))

	if len(repo.saved) != 0 {
		t.Fatal("unhandled event stored a notification")
	}
	if ack.acks != 1 {
		t.Fatalf("acks = %d, want 1", ack.acks)
	}
}

func TestBadPayloadRequeuesOnceThenDrops(t *testing.T) {
	repo := &memRepo{}
	c := testConsumer(repo, newMemDeduper())

	ack := &ackRecorder{}
	d := delivery(ack, "msg-3", pubdomain.EventPublicationSubmitted, []byte(`{broken`))
	c.handle(context.Background(), d)
	if ack.nacks != 1 || !ack.requeue {
		t.Fatalf("first failure: nacks=%d requeue=%v, want 1/true", ack.nacks, ack.requeue)
	}

	d.Redelivered = true
	c.handle(context.Background(), d)
	if ack.nacks != 2 || ack.requeue {
		t.Fatalf("second failure: nacks=%d requeue=%v, want 2/false", ack.nacks, ack.requeue)
	}
}

func TestRequeuedDeliveryIsHandledOnRedelivery(t *testing.T) {
	repo := &memRepo{failures: 1}
	c := testConsumer(repo, newMemDeduper())
	ack := &ackRecorder{}

	body := []byte(`{"publication_id":"p1","title":"T","author_id":"author-1"}`)
	d := delivery(ack, "msg-retry", pubdomain.EventPublicationSubmitted, body)

	c.handle(context.Background(), d)
	if ack.nacks != 1 || !ack.requeue {
		t.Fatalf("first attempt: nacks=%d requeue=%v, want 1/true", ack.nacks, ack.requeue)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("failed attempt stored %d notifications", len(repo.saved))
	}

	// The broker redelivers with the same messageId; it must not be
	// mistaken for an already-handled duplicate.
	d.Redelivered = true
	c.handle(context.Background(), d)
	if len(repo.saved) != 1 {
		t.Fatalf("redelivery saved = %d, want 1", len(repo.saved))
	}
	if ack.acks != 1 {
		t.Fatalf("acks = %d, want 1", ack.acks)
	}

	// Only after a successful handle does the id dedup.
	c.handle(context.Background(), d)
	if len(repo.saved) != 1 {
		t.Fatalf("duplicate after success was handled again (saved=%d)", len(repo.saved))
	}
	if ack.acks != 2 {
		t.Fatalf("acks = %d, want 2", ack.acks)
	}
}
