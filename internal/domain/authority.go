package domain

import "context"

// StaticAuthority grants reviewer capability to a fixed set of coach/owner IDs.
// Deployments with a real role service swap in their own ReviewerAuthority.
type StaticAuthority struct {
	reviewers map[string]struct{}
}

// NewStaticAuthority builds an authority from the configured reviewer IDs.
func NewStaticAuthority(reviewerIDs []string) *StaticAuthority {
	set := make(map[string]struct{}, len(reviewerIDs))
	for _, id := range reviewerIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &StaticAuthority{reviewers: set}
}

// CanReview reports whether reviewerID belongs to the configured reviewer set.
// Users never review their own submissions.
func (a *StaticAuthority) CanReview(_ context.Context, reviewerID, ownerID string) (bool, error) {
	if reviewerID == "" || reviewerID == ownerID {
		return false, nil
	}
	_, ok := a.reviewers[reviewerID]
	return ok, nil
}
