package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pubflow/publications-platform/internal/publication/domain"
	"github.com/pubflow/publications-platform/pkg/outbox"
)

type Service struct {
	repo PublicationRepository
}

func NewService(repo PublicationRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Submit(ctx context.Context, title, abstract, authorID string) (domain.Publication, error) {
	pub := domain.NewPublication(title, abstract, authorID)

	payload, err := json.Marshal(domain.PublicationSubmitted{
		PublicationID: pub.ID,
		Title:         pub.Title,
		AuthorID:      pub.AuthorID,
	})
	if err != nil {
		return domain.Publication{}, err
	}
	event := outbox.NewEvent(pub.ID, domain.AggregatePublication, domain.EventPublicationSubmitted, payload)

	if err := s.repo.SaveSubmission(ctx, pub, event); err != nil {
		return domain.Publication{}, err
	}
	return pub, nil
}

func (s *Service) AssignReviewer(ctx context.Context, publicationID, reviewerID string) (domain.Review, error) {
	pub, err := s.repo.Get(ctx, publicationID)
	if err != nil {
		return domain.Review{}, err
	}
	if !pub.AcceptsReviewers() {
		return domain.Review{}, domain.ErrNotReviewable
	}

	rev := domain.NewReview(pub.ID, reviewerID)
	pub.Status = domain.StatusInReview
	pub.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(domain.ReviewAssigned{
		ReviewID:      rev.ID,
		PublicationID: pub.ID,
		ReviewerID:    rev.ReviewerID,
	})
	if err != nil {
		return domain.Review{}, err
	}
	event := outbox.NewEvent(rev.ID, domain.AggregateReview, domain.EventReviewAssigned, payload)

	if err := s.repo.SaveReviewAssignment(ctx, rev, pub, event); err != nil {
		return domain.Review{}, err
	}
	return rev, nil
}

// Decide records a review verdict and moves the publication to its terminal
// status. Both the review.completed and the publication decision event are
// written in the same transaction as the row updates.
func (s *Service) Decide(ctx context.Context, reviewID string, verdict domain.Verdict, comments string) (domain.Review, error) {
	rev, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if rev.Status == domain.ReviewStatusCompleted {
		return domain.Review{}, domain.ErrReviewAlreadyCompleted
	}
	pub, err := s.repo.Get(ctx, rev.PublicationID)
	if err != nil {
		return domain.Review{}, err
	}

	rev.Complete(verdict, comments)
	pub.UpdatedAt = time.Now().UTC()
	decisionType := domain.EventPublicationApproved
	if verdict == domain.VerdictReject {
		pub.Status = domain.StatusRejected
		decisionType = domain.EventPublicationRejected
	} else {
		pub.Status = domain.StatusApproved
	}

	reviewPayload, err := json.Marshal(domain.ReviewCompleted{
		ReviewID:      rev.ID,
		PublicationID: pub.ID,
		ReviewerID:    rev.ReviewerID,
		Verdict:       string(verdict),
	})
	if err != nil {
		return domain.Review{}, err
	}
	decisionPayload, err := json.Marshal(domain.PublicationDecided{
		PublicationID: pub.ID,
		Title:         pub.Title,
		AuthorID:      pub.AuthorID,
		Verdict:       string(verdict),
	})
	if err != nil {
		return domain.Review{}, err
	}

	events := []outbox.Event{
		outbox.NewEvent(rev.ID, domain.AggregateReview, domain.EventReviewCompleted, reviewPayload),
		outbox.NewEvent(pub.ID, domain.AggregatePublication, decisionType, decisionPayload),
	}

	if err := s.repo.SaveDecision(ctx, rev, pub, events); err != nil {
		return domain.Review{}, err
	}
	return rev, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Publication, []domain.Review, error) {
	return s.repo.GetWithReviews(ctx, id)
}
