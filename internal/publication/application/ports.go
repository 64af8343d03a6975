package application

import (
	"context"

	"github.com/pubflow/publications-platform/internal/publication/domain"
	"github.com/pubflow/publications-platform/pkg/outbox"
)

// PublicationRepository persists lifecycle changes together with their outbox
// events in one transaction: if the business write commits, the event rows
// exist; if it rolls back, neither does.
type PublicationRepository interface {
	SaveSubmission(ctx context.Context, pub domain.Publication, event outbox.Event) error
	SaveReviewAssignment(ctx context.Context, rev domain.Review, pub domain.Publication, event outbox.Event) error
	SaveDecision(ctx context.Context, rev domain.Review, pub domain.Publication, events []outbox.Event) error

	Get(ctx context.Context, id string) (domain.Publication, error)
	GetWithReviews(ctx context.Context, id string) (domain.Publication, []domain.Review, error)
	GetReview(ctx context.Context, id string) (domain.Review, error)
}
