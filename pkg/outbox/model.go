package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Event is one unit of delivery intent. It is inserted in the same
// transaction as the business write that produced it; from then on the
// processor is the only writer of Status, ProcessedAt and RetryCount.
type Event struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	Status        Status
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
}

// NewEvent builds a pending event. The assigned UUID doubles as the broker
// messageId, giving downstream consumers a deduplication key.
func NewEvent(aggregateID, aggregateType, eventType string, payload []byte) Event {
	return Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// StorageError marks a repository failure as transient: the tick that hit it
// skips its batch and the next tick retries the same read.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("outbox storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// PublishError marks a broker-side failure (NACK, timeout, dead channel).
// It counts against the event's retry budget.
type PublishError struct {
	EventID string
	Err     error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish event %s: %v", e.EventID, e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }
