package postgres

import (
	"context"

	"example.com/progress/internal/achievement"
)

// ListUnlocked implements achievement.Ledger over the achievement_unlocks
// projection table.
func (r *Repository) ListUnlocked(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	const query = `SELECT tier, threshold, unlocked_at FROM achievement_unlocks
        WHERE user_id=$1 ORDER BY threshold ASC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	unlocks := make([]achievement.Unlock, 0)
	for rows.Next() {
		var u achievement.Unlock
		if err := rows.Scan(&u.Tier, &u.Threshold, &u.UnlockedAt); err != nil {
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// Record inserts fresh unlocks. ON CONFLICT DO NOTHING keeps the ledger
// grow-only: a tier row is written once and never overwritten or deleted.
func (r *Repository) Record(ctx context.Context, userID string, unlocks []achievement.Unlock) error {
	const stmt = `INSERT INTO achievement_unlocks (user_id, tier, threshold, unlocked_at)
        VALUES ($1,$2,$3,$4) ON CONFLICT (user_id, tier) DO NOTHING`

	for _, u := range unlocks {
		if _, err := r.pool.Exec(ctx, stmt, userID, u.Tier, u.Threshold, u.UnlockedAt); err != nil {
			return err
		}
	}
	return nil
}
