// Package domain defines the business logic for the verified-progress service.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCategory is returned when a submission names an unknown category.
	ErrInvalidCategory = errors.New("unknown submission category")
	// ErrEmptyDescription is returned when a submission carries no description.
	ErrEmptyDescription = errors.New("submission description is empty")
	// ErrInvalidDecision is returned for review decisions outside approve/reject.
	ErrInvalidDecision = errors.New("unknown review decision")
	// ErrSubmissionNotFound is returned when a submission cannot be located.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrUserNotFound is returned when a user has no recorded submissions.
	ErrUserNotFound = errors.New("user has no submissions")
	// ErrReviewerNotAllowed is returned when the caller lacks reviewer capability
	// for the submission owner.
	ErrReviewerNotAllowed = errors.New("reviewer not allowed for this user")
	// ErrAlreadyReviewed is returned when a review races a completed transition.
	// The losing reviewer must treat it as terminal; the stored decision stands.
	ErrAlreadyReviewed = errors.New("submission already reviewed")
)

// PendingFilter narrows ListPending to a single user and/or category.
type PendingFilter struct {
	UserID   string
	Category Category
}

// Cursor models the pagination token for pending listings. Ordering is
// (created_at, submission_id) ascending so the oldest submissions surface first.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// SubmissionRepository captures persistence operations over the submission log.
// Review must be an atomic check-and-set: the transition commits only if the
// row still reads pending, otherwise ErrAlreadyReviewed.
type SubmissionRepository interface {
	Append(ctx context.Context, submission Submission) error
	Get(ctx context.Context, submissionID string) (*Submission, error)
	ListPending(ctx context.Context, filter PendingFilter, cursor *Cursor, limit int) ([]Submission, *Cursor, error)
	ListByUser(ctx context.Context, userID string) ([]Submission, error)
	Review(ctx context.Context, submissionID, reviewerID string, decision Decision, feedback string, reviewedAt time.Time) (*Submission, error)
}

// ReviewerAuthority decides whether a reviewer may transition submissions owned
// by a given user. Identity verification happens upstream; this only answers
// the capability question.
type ReviewerAuthority interface {
	CanReview(ctx context.Context, reviewerID, ownerID string) (bool, error)
}

// Service orchestrates the submission log and the review state machine.
type Service struct {
	repo      SubmissionRepository
	authority ReviewerAuthority
}

// NewService constructs a Service.
func NewService(repo SubmissionRepository, authority ReviewerAuthority) *Service {
	return &Service{repo: repo, authority: authority}
}

// SubmitInput captures the payload from the API layer.
type SubmitInput struct {
	UserID      string
	Category    string
	Description string
}

// Submit appends a pending submission to the log and returns it. No snapshot
// or achievement state moves until a reviewer approves.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Submission, error) {
	category, ok := ParseCategory(input.Category)
	if !ok {
		return nil, ErrInvalidCategory
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, ErrEmptyDescription
	}

	submission := Submission{
		ID:          uuid.NewString(),
		UserID:      input.UserID,
		Category:    category,
		Description: strings.TrimSpace(input.Description),
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Append(ctx, submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

// GetSubmission fetches by ID.
func (s *Service) GetSubmission(ctx context.Context, submissionID string) (*Submission, error) {
	submission, err := s.repo.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	return submission, nil
}

// ListPending pages pending submissions oldest-first for the review dashboard.
func (s *Service) ListPending(ctx context.Context, filter PendingFilter, cursor *Cursor, limit int) ([]Submission, *Cursor, error) {
	return s.repo.ListPending(ctx, filter, cursor, limit)
}

// ReviewInput captures a reviewer verdict.
type ReviewInput struct {
	SubmissionID string
	ReviewerID   string
	Decision     string
	Feedback     string
}

// Review transitions a pending submission to approved or rejected. Exactly one
// of two racing reviews wins; the loser observes ErrAlreadyReviewed and the
// stored row is untouched. Feedback is kept verbatim on reject only.
func (s *Service) Review(ctx context.Context, input ReviewInput) (*Submission, error) {
	decision := Decision(input.Decision)
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, ErrInvalidDecision
	}

	submission, err := s.repo.Get(ctx, input.SubmissionID)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}

	allowed, err := s.authority.CanReview(ctx, input.ReviewerID, submission.UserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrReviewerNotAllowed
	}

	feedback := ""
	if decision == DecisionReject {
		feedback = input.Feedback
	}

	return s.repo.Review(ctx, input.SubmissionID, input.ReviewerID, decision, feedback, time.Now().UTC())
}
