package domain

import "time"

// Category identifies the fitness metric a submission counts toward.
type Category string

const (
	CategoryWorkout    Category = "workout"
	CategoryHydration  Category = "hydration"
	CategoryCalories   Category = "calories"
	CategoryWeeklyGoal Category = "weekly_goal"
)

// Categories lists every known category in a stable order.
var Categories = []Category{CategoryWorkout, CategoryHydration, CategoryCalories, CategoryWeeklyGoal}

// ParseCategory maps a wire value onto the closed category set.
func ParseCategory(value string) (Category, bool) {
	switch Category(value) {
	case CategoryWorkout, CategoryHydration, CategoryCalories, CategoryWeeklyGoal:
		return Category(value), true
	}
	return "", false
}

// Status tracks the review lifecycle of a submission.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is the reviewer's verdict on a pending submission.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Submission is a self-reported activity awaiting or having completed review.
// Rows are append-only: once a submission leaves pending it is immutable.
type Submission struct {
	ID          string
	UserID      string
	Category    Category
	Description string
	Status      Status
	CreatedAt   time.Time
	ReviewedAt  *time.Time
	ReviewerID  string
	Feedback    string
}

// Reviewed reports whether the submission has left the pending state.
func (s Submission) Reviewed() bool {
	return s.Status != StatusPending
}
