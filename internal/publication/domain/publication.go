package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type PublicationStatus string

const (
	StatusSubmitted PublicationStatus = "submitted"
	StatusInReview  PublicationStatus = "in_review"
	StatusApproved  PublicationStatus = "approved"
	StatusRejected  PublicationStatus = "rejected"
)

var (
	ErrPublicationNotFound    = errors.New("publication not found")
	ErrReviewNotFound         = errors.New("review not found")
	ErrNotReviewable          = errors.New("publication is not accepting reviewers")
	ErrReviewAlreadyCompleted = errors.New("review already completed")
	ErrUnknownVerdict         = errors.New("unknown review verdict")
)

type Publication struct {
	ID        string
	Title     string
	Abstract  string
	AuthorID  string
	Status    PublicationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewPublication(title, abstract, authorID string) Publication {
	now := time.Now().UTC()
	return Publication{
		ID:        uuid.NewString(),
		Title:     title,
		Abstract:  abstract,
		AuthorID:  authorID,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AcceptsReviewers reports whether a reviewer may still be assigned.
func (p Publication) AcceptsReviewers() bool {
	return p.Status == StatusSubmitted || p.Status == StatusInReview
}
