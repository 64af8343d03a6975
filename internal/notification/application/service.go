package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pubflow/publications-platform/internal/notification/domain"
	pubdomain "github.com/pubflow/publications-platform/internal/publication/domain"
)

// ErrUnhandledEvent tells the consumer to ack and move on: the event type
// carries no notification for anyone.
var ErrUnhandledEvent = errors.New("no notification for event type")

type Service struct {
	repo NotificationRepository
}

func NewService(repo NotificationRepository) *Service {
	return &Service{repo: repo}
}

// Handle turns one relayed event into a stored notification.
func (s *Service) Handle(ctx context.Context, eventType string, payload []byte) error {
	n, err := s.build(eventType, payload)
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, n)
}

func (s *Service) build(eventType string, payload []byte) (domain.Notification, error) {
	switch eventType {
	case pubdomain.EventPublicationSubmitted:
		var ev pubdomain.PublicationSubmitted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return domain.Notification{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		msg := fmt.Sprintf("Your publication %q was received and awaits review.", ev.Title)
		return domain.NewNotification(ev.AuthorID, eventType, ev.PublicationID, msg), nil

	case pubdomain.EventReviewAssigned:
		var ev pubdomain.ReviewAssigned
		if err := json.Unmarshal(payload, &ev); err != nil {
			return domain.Notification{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		msg := "You have been assigned a publication to review."
		return domain.NewNotification(ev.ReviewerID, eventType, ev.PublicationID, msg), nil

	case pubdomain.EventReviewCompleted:
		var ev pubdomain.ReviewCompleted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return domain.Notification{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		msg := "Your review was recorded. Thank you."
		return domain.NewNotification(ev.ReviewerID, eventType, ev.PublicationID, msg), nil

	case pubdomain.EventPublicationApproved, pubdomain.EventPublicationRejected:
		var ev pubdomain.PublicationDecided
		if err := json.Unmarshal(payload, &ev); err != nil {
			return domain.Notification{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		msg := fmt.Sprintf("A decision was reached on %q: %s.", ev.Title, ev.Verdict)
		return domain.NewNotification(ev.AuthorID, eventType, ev.PublicationID, msg), nil
	}
	return domain.Notification{}, ErrUnhandledEvent
}
