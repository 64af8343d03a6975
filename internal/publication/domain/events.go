package domain

// Aggregate type tags carried in outbox rows and broker headers.
const (
	AggregatePublication = "Publication"
	AggregateReview      = "Review"
)

// Routing keys follow a dotted hierarchy so consumers can bind with
// wildcards (publication.*, review.*).
const (
	EventPublicationSubmitted = "publication.submitted"
	EventPublicationApproved  = "publication.approved"
	EventPublicationRejected  = "publication.rejected"
	EventReviewAssigned       = "review.assigned"
	EventReviewCompleted      = "review.completed"
)

type PublicationSubmitted struct {
	PublicationID string `json:"publication_id"`
	Title         string `json:"title"`
	AuthorID      string `json:"author_id"`
}

type PublicationDecided struct {
	PublicationID string `json:"publication_id"`
	Title         string `json:"title"`
	AuthorID      string `json:"author_id"`
	Verdict       string `json:"verdict"`
}

type ReviewAssigned struct {
	ReviewID      string `json:"review_id"`
	PublicationID string `json:"publication_id"`
	ReviewerID    string `json:"reviewer_id"`
}

type ReviewCompleted struct {
	ReviewID      string `json:"review_id"`
	PublicationID string `json:"publication_id"`
	ReviewerID    string `json:"reviewer_id"`
	Verdict       string `json:"verdict"`
}
