// Package progress derives per-category progress snapshots from the
// submission log. Approved submissions are the only input; pending and
// rejected rows never move a percentage.
package progress

import (
	"context"

	"example.com/progress/internal/domain"
)

// Targets holds the externally supplied per-category goals a percentage is
// computed against.
type Targets map[domain.Category]int

// DefaultTargets mirrors the goals the product ships with. Deployments
// override them through configuration.
var DefaultTargets = Targets{
	domain.CategoryWorkout:    20,
	domain.CategoryHydration:  30,
	domain.CategoryCalories:   30,
	domain.CategoryWeeklyGoal: 4,
}

// Snapshot is the materialized per-category view. PendingCount is
// informational only and never contributes to Percentage.
type Snapshot struct {
	ApprovedCount int     `json:"approved_count"`
	PendingCount  int     `json:"pending_count"`
	Percentage    float64 `json:"percentage"`
}

// Report groups a user's snapshots with the cumulative approved total the
// achievement engine evaluates against.
type Report struct {
	Categories    map[domain.Category]Snapshot
	TotalApproved int
}

// SubmissionLister is the slice of the repository the aggregator reads.
type SubmissionLister interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Submission, error)
}

// Aggregator rebuilds snapshots by folding over the submission log.
type Aggregator struct {
	log     SubmissionLister
	targets Targets
}

// NewAggregator constructs an Aggregator.
func NewAggregator(log SubmissionLister, targets Targets) *Aggregator {
	if targets == nil {
		targets = DefaultTargets
	}
	return &Aggregator{log: log, targets: targets}
}

// Target returns the configured goal for a category, zero if unset.
func (a *Aggregator) Target(category domain.Category) int {
	return a.targets[category]
}

// Recompute rebuilds every snapshot for the user from an empty state. The
// result must equal the incrementally maintained projection for any
// interleaving of submits and reviews; it is also the recovery path after a
// missed event.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (Report, error) {
	submissions, err := a.log.ListByUser(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	if len(submissions) == 0 {
		return Report{}, domain.ErrUserNotFound
	}

	report := Report{Categories: make(map[domain.Category]Snapshot, len(domain.Categories))}
	for _, category := range domain.Categories {
		report.Categories[category] = Snapshot{}
	}

	for _, submission := range submissions {
		snapshot := report.Categories[submission.Category]
		switch submission.Status {
		case domain.StatusApproved:
			snapshot = ApplyApproval(snapshot, a.targets[submission.Category])
			report.TotalApproved++
		case domain.StatusPending:
			snapshot.PendingCount++
		}
		report.Categories[submission.Category] = snapshot
	}

	return report, nil
}

// ApplyApproval folds a single approval into a snapshot. It is a pure
// function of (prior snapshot, target) so replaying an ordered event
// sequence deterministically rebuilds the projection.
func ApplyApproval(prev Snapshot, target int) Snapshot {
	next := prev
	next.ApprovedCount++
	next.Percentage = percentage(next.ApprovedCount, target)
	return next
}

func percentage(approved, target int) float64 {
	if target <= 0 {
		return 0
	}
	return float64(approved) / float64(target)
}
