package application

import (
	"context"
	"errors"
	"testing"

	"github.com/pubflow/publications-platform/internal/notification/domain"
	pubdomain "github.com/pubflow/publications-platform/internal/publication/domain"
)

type captureRepo struct {
	saved []domain.Notification
}

func (r *captureRepo) Save(_ context.Context, n domain.Notification) error {
	r.saved = append(r.saved, n)
	return nil
}

func TestHandleRoutesEventsToRecipients(t *testing.T) {
	cases := []struct {
		eventType     string
		payload       string
		wantRecipient string
	}{
		{pubdomain.EventPublicationSubmitted, `{"publication_id":"p1","title":"T","author_id":"author-1"}`, "author-1"},
		{pubdomain.EventReviewAssigned, `{"review_id":"r1","publication_id":"p1","reviewer_id":"reviewer-1"}`, "reviewer-1"},
		{pubdomain.EventReviewCompleted, `{"review_id":"r1","publication_id":"p1","reviewer_id":"reviewer-1","verdict":"approve"}`, "reviewer-1"},
		{pubdomain.EventPublicationApproved, `{"publication_id":"p1","title":"T","author_id":"author-1","verdict":"approve"}`, "author-1"},
		{pubdomain.EventPublicationRejected, `{"publication_id":"p1","title":"T","author_id":"author-1","verdict":"reject"}`, "author-1"},
	}

	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			repo := &captureRepo{}
			svc := NewService(repo)
			if err := svc.Handle(context.Background(), tc.eventType, []byte(tc.payload)); err != nil {
				t.Fatal(err)
			}
			if len(repo.saved) != 1 {
				t.Fatalf("saved %d notifications, want 1", len(repo.saved))
			}
			n := repo.saved[0]
			if n.RecipientID != tc.wantRecipient {
				t.Fatalf("recipient = %s, want %s", n.RecipientID, tc.wantRecipient)
			}
			if n.EventType != tc.eventType || n.PublicationID != "p1" || n.Message == "" {
				t.Fatalf("notification = %+v", n)
			}
		})
	}
}

func TestHandleUnknownEventType(t *testing.T) {
	repo := &captureRepo{}
	svc := NewService(repo)

	err := svc.Handle(context.Background(), "author.registered", []byte(`{}`))
	if !errors.Is(err, ErrUnhandledEvent) {
		t.Fatalf("err = %v, want ErrUnhandledEvent", err)
	}
	if len(repo.saved) != 0 {
		t.Fatal("unhandled event produced a notification")
	}
}

func TestHandleBadPayload(t *testing.T) {
	repo := &captureRepo{}
	svc := NewService(repo)

	err := svc.Handle(context.Background(), pubdomain.EventPublicationSubmitted, []byte(`{broken`))
	if err == nil || errors.Is(err, ErrUnhandledEvent) {
		t.Fatalf("err = %v, want decode error", err)
	}
}
