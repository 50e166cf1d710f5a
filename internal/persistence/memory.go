package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/progress/internal/achievement"
	"example.com/progress/internal/domain"
)

// MemoryStore keeps the submission log and the achievement ledger in memory.
// It backs local development and tests; the review transition holds the store
// lock for the whole check-and-set so racing reviews resolve to one winner.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[string]domain.Submission
	unlocks     map[string][]achievement.Unlock
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]domain.Submission),
		unlocks:     make(map[string][]achievement.Unlock),
	}
}

// Append implements domain.SubmissionRepository.
func (s *MemoryStore) Append(_ context.Context, submission domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[submission.ID] = submission
	return nil
}

// Get returns the submission by ID, nil when absent.
func (s *MemoryStore) Get(_ context.Context, submissionID string) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	submission, ok := s.submissions[submissionID]
	if !ok {
		return nil, nil
	}
	return &submission, nil
}

// ListPending pages pending submissions in (created_at, id) ascending order.
func (s *MemoryStore) ListPending(_ context.Context, filter domain.PendingFilter, cursor *domain.Cursor, limit int) ([]domain.Submission, *domain.Cursor, error) {
	s.mu.RLock()
	matches := make([]domain.Submission, 0)
	for _, submission := range s.submissions {
		if submission.Status != domain.StatusPending {
			continue
		}
		if filter.UserID != "" && submission.UserID != filter.UserID {
			continue
		}
		if filter.Category != "" && submission.Category != filter.Category {
			continue
		}
		matches = append(matches, submission)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	if cursor != nil {
		idx := sort.Search(len(matches), func(i int) bool {
			if matches[i].CreatedAt.Equal(cursor.CreatedAt) {
				return matches[i].ID > cursor.ID
			}
			return matches[i].CreatedAt.After(cursor.CreatedAt)
		})
		matches = matches[idx:]
	}

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	var next *domain.Cursor
	if limit > 0 && len(matches) == limit {
		last := matches[len(matches)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return matches, next, nil
}

// ListByUser returns the user's full log in created_at ascending order.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]domain.Submission, error) {
	s.mu.RLock()
	out := make([]domain.Submission, 0)
	for _, submission := range s.submissions {
		if submission.UserID == userID {
			out = append(out, submission)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Review performs the atomic pending check-and-set.
func (s *MemoryStore) Review(_ context.Context, submissionID, reviewerID string, decision domain.Decision, feedback string, reviewedAt time.Time) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submission, ok := s.submissions[submissionID]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	if submission.Status != domain.StatusPending {
		return nil, domain.ErrAlreadyReviewed
	}

	if decision == domain.DecisionApprove {
		submission.Status = domain.StatusApproved
	} else {
		submission.Status = domain.StatusRejected
		submission.Feedback = feedback
	}
	submission.ReviewerID = reviewerID
	at := reviewedAt
	submission.ReviewedAt = &at

	s.submissions[submissionID] = submission
	return &submission, nil
}

// ListUnlocked implements achievement.Ledger.
func (s *MemoryStore) ListUnlocked(_ context.Context, userID string) ([]achievement.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]achievement.Unlock, len(s.unlocks[userID]))
	copy(out, s.unlocks[userID])
	return out, nil
}

// Record appends unlocks for tiers not already present. Duplicate records for
// a tier are ignored, keeping the ledger grow-only.
func (s *MemoryStore) Record(_ context.Context, userID string, unlocks []achievement.Unlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[achievement.Tier]bool, len(s.unlocks[userID]))
	for _, u := range s.unlocks[userID] {
		existing[u.Tier] = true
	}
	for _, u := range unlocks {
		if existing[u.Tier] {
			continue
		}
		s.unlocks[userID] = append(s.unlocks[userID], u)
		existing[u.Tier] = true
	}
	return nil
}
