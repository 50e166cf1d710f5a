// Package events defines the payloads published through the outbox.
package events

import "time"

// SubmissionCreated is emitted when a user logs a new pending submission.
type SubmissionCreated struct {
	SubmissionID string    `json:"submission_id"`
	UserID       string    `json:"user_id"`
	Category     string    `json:"category"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubmissionReviewed is emitted when a reviewer approves or rejects a
// submission. Downstream consumers (projections, notifications) key off the
// decision; feedback travels only on rejections.
type SubmissionReviewed struct {
	SubmissionID string    `json:"submission_id"`
	UserID       string    `json:"user_id"`
	Category     string    `json:"category"`
	Decision     string    `json:"decision"`
	ReviewerID   string    `json:"reviewer_id"`
	Feedback     string    `json:"feedback,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AchievementUnlocked is emitted the first time a user crosses a tier
// threshold. Tiers never relock, so consumers may treat this as final.
type AchievementUnlocked struct {
	UserID     string    `json:"user_id"`
	Tier       string    `json:"tier"`
	Threshold  int       `json:"threshold"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
