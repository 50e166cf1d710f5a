package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/progress/internal/achievement"
	"example.com/progress/internal/events"
)

// ProjectionHandler folds submission events into the materialized progress
// and achievement tables. Every event is applied at most once: a dedupe row
// keyed by (submission_id, event_type) guards the increments, so redelivered
// messages are no-ops and the projection stays equal to a full log replay.
type ProjectionHandler struct {
	pool   *pgxpool.Pool
	ladder []achievement.Unlock
}

// NewProjectionHandler constructs a handler backed by the provided pool.
func NewProjectionHandler(pool *pgxpool.Pool, thresholds achievement.Thresholds) *ProjectionHandler {
	if len(thresholds) == 0 {
		thresholds = achievement.DefaultThresholds
	}
	ladder := make([]achievement.Unlock, 0, len(thresholds))
	for tier, threshold := range thresholds {
		ladder = append(ladder, achievement.Unlock{Tier: tier, Threshold: threshold})
	}
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Threshold < ladder[j].Threshold })
	return &ProjectionHandler{pool: pool, ladder: ladder}
}

// Handle applies a decoded outbox event to the projections.
func (h *ProjectionHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case "submission.created":
		var payload events.SubmissionCreated
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode submission.created: %w", err)
		}
		return h.applyCreated(ctx, payload)
	case "submission.reviewed":
		var payload events.SubmissionReviewed
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode submission.reviewed: %w", err)
		}
		return h.applyReviewed(ctx, payload)
	default:
		// Unknown event types are committed without effect; the projection
		// only depends on the submission lifecycle.
		return nil
	}
}

func (h *ProjectionHandler) applyCreated(ctx context.Context, payload events.SubmissionCreated) error {
	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	applied, err := claimEvent(ctx, tx, payload.SubmissionID, "submission.created")
	if err != nil {
		return err
	}
	if !applied {
		return tx.Commit(ctx)
	}

	// Created and reviewed travel on separate topics, so the reviewed event
	// can arrive first. Its settle step already ran against the zero clamp;
	// counting the submission as pending now would leave the projection one
	// ahead of a log replay.
	reviewed, err := eventApplied(ctx, tx, payload.SubmissionID, "submission.reviewed")
	if err != nil {
		return err
	}
	if reviewed {
		return tx.Commit(ctx)
	}

	const upsert = `INSERT INTO progress_snapshots (user_id, category, approved_count, pending_count, updated_at)
        VALUES ($1,$2,0,1,NOW())
        ON CONFLICT (user_id, category)
        DO UPDATE SET pending_count = progress_snapshots.pending_count + 1, updated_at = NOW()`

	if _, err := tx.Exec(ctx, upsert, payload.UserID, payload.Category); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (h *ProjectionHandler) applyReviewed(ctx context.Context, payload events.SubmissionReviewed) error {
	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	applied, err := claimEvent(ctx, tx, payload.SubmissionID, "submission.reviewed")
	if err != nil {
		return err
	}
	if !applied {
		return tx.Commit(ctx)
	}

	const settlePending = `UPDATE progress_snapshots
        SET pending_count = GREATEST(pending_count - 1, 0), updated_at = NOW()
        WHERE user_id=$1 AND category=$2`

	if _, err := tx.Exec(ctx, settlePending, payload.UserID, payload.Category); err != nil {
		return err
	}

	// Rejections settle the pending counter and nothing else.
	if payload.Decision != "approve" {
		return tx.Commit(ctx)
	}

	const addApproval = `INSERT INTO progress_snapshots (user_id, category, approved_count, pending_count, updated_at)
        VALUES ($1,$2,1,0,NOW())
        ON CONFLICT (user_id, category)
        DO UPDATE SET approved_count = progress_snapshots.approved_count + 1, updated_at = NOW()`

	if _, err := tx.Exec(ctx, addApproval, payload.UserID, payload.Category); err != nil {
		return err
	}

	var total int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(approved_count),0) FROM progress_snapshots WHERE user_id=$1`, payload.UserID).Scan(&total); err != nil {
		return err
	}

	if err := h.unlockReached(ctx, tx, payload.UserID, total, payload.OccurredAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// unlockReached writes unlock rows for every tier the new total meets.
// ON CONFLICT DO NOTHING keeps existing unlocks untouched, so a tier can
// never regress even if totals were later corrected downward. Each fresh
// crossing also lands an achievement.unlocked event in the outbox so
// notification consumers hear about it exactly once.
func (h *ProjectionHandler) unlockReached(ctx context.Context, tx pgx.Tx, userID string, total int, at time.Time) error {
	const stmt = `INSERT INTO achievement_unlocks (user_id, tier, threshold, unlocked_at)
        VALUES ($1,$2,$3,$4) ON CONFLICT (user_id, tier) DO NOTHING`

	for _, entry := range h.ladder {
		if total < entry.Threshold {
			break
		}
		tag, err := tx.Exec(ctx, stmt, userID, entry.Tier, entry.Threshold, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if err := announceUnlock(ctx, tx, events.AchievementUnlocked{
			UserID:     userID,
			Tier:       string(entry.Tier),
			Threshold:  entry.Threshold,
			UnlockedAt: at,
		}); err != nil {
			return err
		}
	}
	return nil
}

// announceUnlock stages the unlock event for the outbox dispatcher. The
// dedupe key mirrors the unlock table's primary key, so a tier is announced
// at most once per user.
func announceUnlock(ctx context.Context, tx pgx.Tx, payload events.AchievementUnlocked) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ('achievement', $1, 'achievement.unlocked', 'achievement_events', 'achievement_events-value', $1, $2, $3)`

	_, err = tx.Exec(ctx, stmt, payload.UserID, body, fmt.Sprintf("%s:%s:achievement.unlocked", payload.UserID, payload.Tier))
	return err
}

// eventApplied reports whether the (submission, event type) pair has already
// been folded into the projection.
func eventApplied(ctx context.Context, tx pgx.Tx, submissionID, eventType string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projection_applied WHERE submission_id=$1 AND event_type=$2)`,
		submissionID, eventType,
	).Scan(&exists)
	return exists, err
}

// claimEvent reserves the (submission, event type) pair. It reports false when
// a previous delivery already claimed it.
func claimEvent(ctx context.Context, tx pgx.Tx, submissionID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO projection_applied (submission_id, event_type) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		submissionID, eventType,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
