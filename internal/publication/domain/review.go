package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusCompleted ReviewStatus = "completed"
)

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictApprove, VerdictReject:
		return Verdict(s), nil
	}
	return "", ErrUnknownVerdict
}

type Review struct {
	ID            string
	PublicationID string
	ReviewerID    string
	Verdict       Verdict
	Comments      string
	Status        ReviewStatus
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

func NewReview(publicationID, reviewerID string) Review {
	return Review{
		ID:            uuid.NewString(),
		PublicationID: publicationID,
		ReviewerID:    reviewerID,
		Status:        ReviewStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func (r *Review) Complete(verdict Verdict, comments string) {
	now := time.Now().UTC()
	r.Verdict = verdict
	r.Comments = comments
	r.Status = ReviewStatusCompleted
	r.CompletedAt = &now
}
