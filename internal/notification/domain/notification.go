package domain

import (
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID            string
	RecipientID   string
	EventType     string
	PublicationID string
	Message       string
	CreatedAt     time.Time
}

func NewNotification(recipientID, eventType, publicationID, message string) Notification {
	return Notification{
		ID:            uuid.NewString(),
		RecipientID:   recipientID,
		EventType:     eventType,
		PublicationID: publicationID,
		Message:       message,
		CreatedAt:     time.Now().UTC(),
	}
}
