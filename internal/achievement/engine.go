// Package achievement evaluates cumulative approved-activity counts against
// tier thresholds and unlocks badges monotonically.
package achievement

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Tier names a badge level.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Thresholds maps tiers to the cumulative approved-activity count required.
// Values are configuration, not policy baked into the engine.
type Thresholds map[Tier]int

// DefaultThresholds matches the shipped badge ladder: first verified workout,
// 10 approved activities, 30 approved milestones.
var DefaultThresholds = Thresholds{
	TierBronze: 1,
	TierSilver: 10,
	TierGold:   30,
}

// Unlock records a tier crossing for a user.
type Unlock struct {
	Tier       Tier      `json:"tier"`
	Threshold  int       `json:"threshold"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Ledger persists unlock records. Implementations must tolerate duplicate
// Record calls for the same (user, tier) without error; the unlock set only
// ever grows.
type Ledger interface {
	ListUnlocked(ctx context.Context, userID string) ([]Unlock, error)
	Record(ctx context.Context, userID string, unlocks []Unlock) error
}

// Engine holds the threshold ladder sorted ascending.
type Engine struct {
	ladder []ladderEntry
	ledger Ledger
}

type ladderEntry struct {
	tier      Tier
	threshold int
}

// NewEngine constructs an Engine over the supplied thresholds and ledger.
func NewEngine(thresholds Thresholds, ledger Ledger) *Engine {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	ladder := make([]ladderEntry, 0, len(thresholds))
	for tier, threshold := range thresholds {
		ladder = append(ladder, ladderEntry{tier: tier, threshold: threshold})
	}
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].threshold < ladder[j].threshold })
	return &Engine{ladder: ladder, ledger: ledger}
}

// Evaluate returns every tier whose threshold totalApproved now meets and that
// is absent from alreadyUnlocked, in ascending threshold order. Tiers in
// alreadyUnlocked stay unlocked regardless of totalApproved: recomputation
// from a shrunken approved set can only raise, never lower, unlock state.
func (e *Engine) Evaluate(totalApproved int, alreadyUnlocked map[Tier]bool, now time.Time) []Unlock {
	var fresh []Unlock
	for _, entry := range e.ladder {
		if alreadyUnlocked[entry.tier] {
			continue
		}
		if totalApproved >= entry.threshold {
			fresh = append(fresh, Unlock{Tier: entry.tier, Threshold: entry.threshold, UnlockedAt: now})
		}
	}
	return fresh
}

// Sync evaluates the user's total against the persisted ledger, records any
// fresh unlocks, and returns the full unlocked set plus the newly crossed
// tiers. The returned set is checked to be a superset of the prior one.
func (e *Engine) Sync(ctx context.Context, userID string, totalApproved int) (all, fresh []Unlock, err error) {
	prior, err := e.ledger.ListUnlocked(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	unlocked := make(map[Tier]bool, len(prior))
	for _, u := range prior {
		unlocked[u.Tier] = true
	}

	fresh = e.Evaluate(totalApproved, unlocked, time.Now().UTC())
	if len(fresh) > 0 {
		if err := e.ledger.Record(ctx, userID, fresh); err != nil {
			return nil, nil, err
		}
	}

	all = append(prior, fresh...)
	if err := verifyMonotonic(prior, all); err != nil {
		return nil, nil, err
	}
	return all, fresh, nil
}

// Statuses renders the full badge catalog, locked tiers included, in
// ascending threshold order.
func (e *Engine) Statuses(unlocked []Unlock) []TierStatus {
	byTier := make(map[Tier]Unlock, len(unlocked))
	for _, u := range unlocked {
		byTier[u.Tier] = u
	}

	out := make([]TierStatus, 0, len(e.ladder))
	for _, entry := range e.ladder {
		status := TierStatus{Tier: entry.tier, Threshold: entry.threshold}
		if u, ok := byTier[entry.tier]; ok {
			status.Unlocked = true
			unlockedAt := u.UnlockedAt
			status.UnlockedAt = &unlockedAt
		}
		out = append(out, status)
	}
	return out
}

// TierStatus is one row of the badge catalog.
type TierStatus struct {
	Tier       Tier       `json:"tier"`
	Threshold  int        `json:"threshold"`
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// verifyMonotonic asserts every previously unlocked tier is still present.
func verifyMonotonic(old, new []Unlock) error {
	next := make(map[Tier]bool, len(new))
	for _, u := range new {
		next[u.Tier] = true
	}
	for _, u := range old {
		if !next[u.Tier] {
			return fmt.Errorf("achievement %s regressed from unlocked to locked", u.Tier)
		}
	}
	return nil
}
